package crdb

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	ForeignKeyViolationCode  = "23503"
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return errors.Wrap(err, "set isolation")
	}

	if err := fn(&txHandle{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return domain.ErrSerializationFailure
		case UniqueViolationCode, ForeignKeyViolationCode:
			return errors.Wrap(domain.ErrConflict, pgErr.Message)
		}
	}
	return err
}

type txHandle struct {
	tx pgx.Tx
}

func (t *txHandle) GetEquipment(ctx context.Context, id uuid.UUID) (domain.Equipment, error) {
	return scanEquipment(t.tx.QueryRow(ctx, `
		SELECT id, name, quantity, version FROM equipment WHERE id = $1
	`, id))
}

func (t *txHandle) GetEquipmentByName(ctx context.Context, name string) (domain.Equipment, error) {
	return scanEquipment(t.tx.QueryRow(ctx, `
		SELECT id, name, quantity, version FROM equipment WHERE name = $1
	`, name))
}

func scanEquipment(row pgx.Row) (domain.Equipment, error) {
	var e domain.Equipment
	err := row.Scan(&e.ID, &e.Name, &e.Quantity, (*int64)(&e.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Equipment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Equipment{}, errors.Wrap(err, "scan equipment")
	}
	return e, nil
}

func (t *txHandle) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, quantity, version FROM equipment ORDER BY name
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list equipment")
	}
	defer rows.Close()

	var out []domain.Equipment
	for rows.Next() {
		var e domain.Equipment
		if err := rows.Scan(&e.ID, &e.Name, &e.Quantity, (*int64)(&e.Version)); err != nil {
			return nil, errors.Wrap(err, "scan equipment")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *txHandle) InsertEquipment(ctx context.Context, e domain.Equipment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO equipment (id, name, quantity, version) VALUES ($1, $2, $3, $4)
	`, e.ID, e.Name, e.Quantity, int64(e.Version))
	return err
}

func (t *txHandle) UpdateEquipment(ctx context.Context, e domain.Equipment, expected domain.Version) (domain.Version, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		UPDATE equipment SET name = $2, quantity = $3, version = version + 1
		WHERE id = $1 AND version = $4
		RETURNING version
	`, e.ID, e.Name, e.Quantity, int64(expected)).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, t.missOrConflict(ctx, "equipment", e.ID)
	}
	if err != nil {
		return 0, err
	}
	return domain.Version(next), nil
}

func (t *txHandle) DeleteEquipment(ctx context.Context, id uuid.UUID, expected domain.Version) error {
	result, err := t.tx.Exec(ctx, `
		DELETE FROM equipment WHERE id = $1 AND version = $2
	`, id, int64(expected))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return t.missOrConflict(ctx, "equipment", id)
	}
	return nil
}

func (t *txHandle) OutstandingQuantity(ctx context.Context, equipmentID uuid.UUID) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservation_items
		WHERE equipment_id = $1 AND NOT returned
	`, equipmentID).Scan(&total)
	return total, errors.Wrap(err, "sum outstanding")
}

// missOrConflict tells a stale version apart from a missing row after a guarded write hit nothing.
func (t *txHandle) missOrConflict(ctx context.Context, table string, id uuid.UUID) error {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return errors.Wrapf(err, "probe %s", table)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrVersionConflict
}

func (t *txHandle) InsertReservation(ctx context.Context, r domain.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (id, email, status, created_at, collected, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Email, r.Status, r.CreatedAt, r.Collected, int64(r.Version))
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, item := range r.Items {
		batch.Queue(`
			INSERT INTO reservation_items (id, reservation_id, position, equipment_id, equipment_name, quantity, returned, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, r.ID, i, item.EquipmentID, item.EquipmentName, item.Quantity, item.Returned, int64(item.Version))
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txHandle) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var r domain.Reservation
	err := t.tx.QueryRow(ctx, `
		SELECT id, email, status, created_at, collected, version
		FROM reservations WHERE id = $1
	`, id).Scan(&r.ID, &r.Email, &r.Status, &r.CreatedAt, &r.Collected, (*int64)(&r.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, errors.Wrap(err, "get reservation")
	}

	items, err := t.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return domain.Reservation{}, err
	}
	r.Items = items[id]
	return r, nil
}

func (t *txHandle) ListReservations(ctx context.Context) ([]domain.Reservation, error) {
	return t.listReservations(ctx, `
		SELECT id, email, status, created_at, collected, version
		FROM reservations ORDER BY created_at, id
	`)
}

func (t *txHandle) ListReservationsByEmail(ctx context.Context, email string) ([]domain.Reservation, error) {
	return t.listReservations(ctx, `
		SELECT id, email, status, created_at, collected, version
		FROM reservations WHERE lower(email) = lower($1) ORDER BY created_at, id
	`, email)
}

func (t *txHandle) listReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	defer rows.Close()

	var out []domain.Reservation
	var ids []uuid.UUID
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.ID, &r.Email, &r.Status, &r.CreatedAt, &r.Collected, (*int64)(&r.Version)); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		out = append(out, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	items, err := t.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (t *txHandle) itemsFor(ctx context.Context, reservationIDs []uuid.UUID) (map[uuid.UUID][]domain.ReservationItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT reservation_id, id, equipment_id, equipment_name, quantity, returned, version
		FROM reservation_items WHERE reservation_id = ANY($1) ORDER BY reservation_id, position
	`, reservationIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list reservation items")
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]domain.ReservationItem, len(reservationIDs))
	for rows.Next() {
		var reservationID uuid.UUID
		var item domain.ReservationItem
		if err := rows.Scan(&reservationID, &item.ID, &item.EquipmentID, &item.EquipmentName, &item.Quantity, &item.Returned, (*int64)(&item.Version)); err != nil {
			return nil, errors.Wrap(err, "scan reservation item")
		}
		items[reservationID] = append(items[reservationID], item)
	}
	return items, rows.Err()
}

func (t *txHandle) UpdateReservation(ctx context.Context, r domain.Reservation, expected domain.Version) (domain.Version, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		UPDATE reservations SET status = $2, collected = $3, version = version + 1
		WHERE id = $1 AND version = $4
		RETURNING version
	`, r.ID, r.Status, r.Collected, int64(expected)).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, t.missOrConflict(ctx, "reservations", r.ID)
	}
	if err != nil {
		return 0, err
	}
	return domain.Version(next), nil
}

func (t *txHandle) UpdateReservationItem(ctx context.Context, reservationID uuid.UUID, item domain.ReservationItem, expected domain.Version) (domain.Version, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		UPDATE reservation_items SET quantity = $3, returned = $4, version = version + 1
		WHERE id = $1 AND reservation_id = $2 AND version = $5
		RETURNING version
	`, item.ID, reservationID, item.Quantity, item.Returned, int64(expected)).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, t.missOrConflict(ctx, "reservation_items", item.ID)
	}
	if err != nil {
		return 0, err
	}
	return domain.Version(next), nil
}

func (t *txHandle) DeleteReservation(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
