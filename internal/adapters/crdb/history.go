package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/equipment-reservations/internal/domain"
)

func (r *Repository) InsertHistory(ctx context.Context, h domain.ReservationHistory) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reservation_history (id, reservation_id, email, created_at, collected, snapshot_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ID, h.ReservationID, h.Email, h.CreatedAt, h.Collected, h.SnapshotAt)
	return errors.Wrap(err, "insert history")
}

func (r *Repository) ListHistory(ctx context.Context) ([]domain.ReservationHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reservation_id, email, created_at, collected, snapshot_at
		FROM reservation_history ORDER BY snapshot_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []domain.ReservationHistory
	for rows.Next() {
		var h domain.ReservationHistory
		if err := rows.Scan(&h.ID, &h.ReservationID, &h.Email, &h.CreatedAt, &h.Collected, &h.SnapshotAt); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
