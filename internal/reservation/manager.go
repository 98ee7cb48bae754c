// Package reservation owns reservation aggregates and keeps inventory in step with them.
//
// Every write runs in exactly one store transaction. Version checks are optimistic and
// nothing here retries: a conflict is reported and the caller reloads and tries again.
package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/inventory"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Auditor records completed lifecycle changes somewhere outside the transactional store.
type Auditor interface {
	LogReservation(ctx context.Context, action string, r domain.Reservation) error
}

type Manager struct {
	store            domain.Store
	history          domain.HistoryStore
	auditor          Auditor
	logger           observability.Logger
	tracer           trace.Tracer
	strictCreditBack bool
	now              func() time.Time
}

type Option func(*Manager)

// WithStrictCreditBack makes Delete fail instead of skipping items whose equipment is gone.
func WithStrictCreditBack(strict bool) Option {
	return func(m *Manager) { m.strictCreditBack = strict }
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store domain.Store, history domain.HistoryStore, logger observability.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		history: history,
		logger:  logger.WithField("component", "reservation"),
		tracer:  otel.Tracer("reservation"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type NewItem struct {
	EquipmentName string
	Quantity      int
}

type ItemUpdate struct {
	ID              uuid.UUID
	Quantity        domain.Optional[int]
	ExpectedVersion domain.Version
}

type UpdateRequest struct {
	Status          domain.Optional[string]
	Collected       domain.Optional[bool]
	Items           []ItemUpdate
	ExpectedVersion domain.Version
}

func (m *Manager) Create(ctx context.Context, email, status string, items []NewItem) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Create")
	var err error
	defer func() { endSpan(span, err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		err = errors.Wrap(domain.ErrInvalidInput, "email is required")
		return domain.Reservation{}, err
	}
	if len(items) == 0 {
		err = errors.Wrap(domain.ErrInvalidInput, "at least one item is required")
		return domain.Reservation{}, err
	}
	if status == "" {
		status = domain.StatusAfventer
	}
	if !domain.ValidStatus(status) {
		err = errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", status)
		return domain.Reservation{}, err
	}
	for _, item := range items {
		if strings.TrimSpace(item.EquipmentName) == "" || item.Quantity <= 0 {
			err = errors.Wrapf(domain.ErrInvalidInput, "item %q needs a name and a positive quantity", item.EquipmentName)
			return domain.Reservation{}, err
		}
	}

	r := domain.Reservation{
		ID:        uuid.New(),
		Email:     email,
		Status:    status,
		CreatedAt: m.now().UTC(),
		Version:   domain.InitialVersion,
	}

	err = m.store.WithTx(ctx, func(tx domain.Tx) error {
		r.Items = r.Items[:0]
		for _, item := range items {
			name := strings.TrimSpace(item.EquipmentName)
			e, err := tx.GetEquipmentByName(ctx, name)
			if errors.Is(err, domain.ErrNotFound) {
				return errors.Wrapf(domain.ErrInsufficientStock, "no equipment named %q", name)
			}
			if err != nil {
				return err
			}
			if _, err := inventory.Debit(ctx, tx, e, item.Quantity); err != nil {
				return err
			}
			r.Items = append(r.Items, domain.ReservationItem{
				ID:            uuid.New(),
				EquipmentID:   e.ID,
				EquipmentName: e.Name,
				Quantity:      item.Quantity,
				Version:       domain.InitialVersion,
			})
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, newEvent(domain.EventReservationCreated, r))
	})
	if err != nil {
		m.countConflict("create", err)
		return domain.Reservation{}, err
	}

	span.SetAttributes(attribute.String("reservation.id", r.ID.String()))
	m.logger.WithField("reservation_id", r.ID).Info("reservation created")
	m.audit(ctx, domain.EventReservationCreated, r)
	return r, nil
}

func (m *Manager) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (domain.WriteResult, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Update", trace.WithAttributes(attribute.String("reservation.id", id.String())))
	var err error
	defer func() { endSpan(span, err) }()

	if status, ok := req.Status.Get(); ok && !domain.ValidStatus(status) {
		err = errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", status)
		return domain.WriteResult{}, err
	}

	var r domain.Reservation
	rows := 0
	missing := false
	err = m.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing = true
			return err
		}
		if err != nil {
			return err
		}
		if r.Version != req.ExpectedVersion {
			return domain.ErrVersionConflict
		}

		if status, ok := req.Status.Get(); ok {
			r.Status = status
		}
		if collected, ok := req.Collected.Get(); ok {
			r.Collected = collected
		}

		for _, upd := range req.Items {
			idx := indexOfItem(r.Items, upd.ID)
			if idx < 0 {
				continue
			}
			item := &r.Items[idx]
			if item.Version != upd.ExpectedVersion {
				return domain.ErrVersionConflict
			}
			qty, ok := upd.Quantity.Get()
			if !ok || qty == item.Quantity {
				continue
			}
			if err := m.requantify(ctx, tx, item, qty); err != nil {
				return err
			}
			item.Version, err = tx.UpdateReservationItem(ctx, r.ID, *item, upd.ExpectedVersion)
			if err != nil {
				return err
			}
			rows++
		}

		r.Version, err = tx.UpdateReservation(ctx, r, req.ExpectedVersion)
		if err != nil {
			return err
		}
		rows++
		return tx.InsertOutbox(ctx, newEvent(domain.EventReservationUpdated, r))
	})

	res, err := m.outcome("update", id, missing, rows, err)
	if err == nil && res.Outcome == domain.OutcomeUpdated {
		m.audit(ctx, domain.EventReservationUpdated, r)
	}
	return res, err
}

// requantify moves the difference between the item's current and new quantity in or out of stock.
func (m *Manager) requantify(ctx context.Context, tx domain.Tx, item *domain.ReservationItem, qty int) error {
	if item.Returned {
		return errors.Wrapf(domain.ErrInvalidInput, "item %s is already returned", item.ID)
	}
	if qty <= 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "quantity must be positive, got %d", qty)
	}
	e, err := m.equipmentFor(ctx, tx, *item)
	if err != nil {
		return err
	}
	if delta := qty - item.Quantity; delta > 0 {
		_, err = inventory.Debit(ctx, tx, e, delta)
	} else {
		_, err = inventory.Credit(ctx, tx, e, -delta)
	}
	if err != nil {
		return err
	}
	item.Quantity = qty
	return nil
}

func (m *Manager) ReturnItems(ctx context.Context, id uuid.UUID) (domain.WriteResult, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.ReturnItems", trace.WithAttributes(attribute.String("reservation.id", id.String())))
	var err error
	defer func() { endSpan(span, err) }()

	var r domain.Reservation
	rows := 0
	missing := false
	err = m.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing = true
			return err
		}
		if err != nil {
			return err
		}
		if len(r.Items) == 0 {
			missing = true
			return domain.ErrNotFound
		}

		for i := range r.Items {
			item := &r.Items[i]
			if item.Returned {
				continue
			}
			e, err := m.equipmentFor(ctx, tx, *item)
			if err != nil {
				return err
			}
			if _, err := inventory.Credit(ctx, tx, e, item.Quantity); err != nil {
				return err
			}
			expected := item.Version
			item.Returned = true
			item.Version, err = tx.UpdateReservationItem(ctx, r.ID, *item, expected)
			if err != nil {
				return err
			}
			rows++
		}

		expected := r.Version
		r.Status = domain.StatusInaktiv
		r.Version, err = tx.UpdateReservation(ctx, r, expected)
		if err != nil {
			return err
		}
		rows++
		return tx.InsertOutbox(ctx, newEvent(domain.EventReservationReturned, r))
	})

	res, err := m.outcome("return", id, missing, rows, err)
	if err == nil && res.Outcome == domain.OutcomeUpdated {
		m.logger.WithField("reservation_id", id).Info("reservation returned")
		m.audit(ctx, domain.EventReservationReturned, r)
	}
	return res, err
}

func (m *Manager) Delete(ctx context.Context, id uuid.UUID) (domain.WriteResult, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Delete", trace.WithAttributes(attribute.String("reservation.id", id.String())))
	var err error
	defer func() { endSpan(span, err) }()

	var r domain.Reservation
	missing := false
	var skipped []uuid.UUID
	err = m.store.WithTx(ctx, func(tx domain.Tx) error {
		skipped = skipped[:0]
		var err error
		r, err = tx.GetReservation(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing = true
			return err
		}
		if err != nil {
			return err
		}

		// Returned items were credited when they came back.
		for _, item := range r.Items {
			if item.Returned {
				continue
			}
			e, err := tx.GetEquipment(ctx, item.EquipmentID)
			if errors.Is(err, domain.ErrNotFound) && !m.strictCreditBack {
				skipped = append(skipped, item.ID)
				continue
			}
			if errors.Is(err, domain.ErrNotFound) {
				return errors.Wrapf(domain.ErrConflict, "equipment %s for item %s no longer exists", item.EquipmentID, item.ID)
			}
			if err != nil {
				return err
			}
			if _, err := inventory.Credit(ctx, tx, e, item.Quantity); err != nil {
				return err
			}
		}

		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, newEvent(domain.EventReservationDeleted, r))
	})

	res, err := m.outcome("delete", id, missing, 1+len(r.Items), err)
	if err == nil && res.Outcome == domain.OutcomeUpdated {
		for _, itemID := range skipped {
			observability.CreditBackSkipped.Inc()
			m.logger.WithField("reservation_id", id).WithField("item_id", itemID).Warn("equipment missing, stock not credited back")
		}
		m.logger.WithField("reservation_id", id).Info("reservation deleted")
		m.audit(ctx, domain.EventReservationDeleted, r)
	}
	return res, err
}

func (m *Manager) GetByID(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var r domain.Reservation
	err := m.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		return err
	})
	return r, err
}

// GetAll fails with domain.ErrNoResults rather than returning an empty list.
func (m *Manager) GetAll(ctx context.Context) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := m.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListReservations(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNoResults
	}
	return out, nil
}

// GetByUserEmail fails with domain.ErrNoResults rather than returning an empty list.
func (m *Manager) GetByUserEmail(ctx context.Context, email string) ([]domain.Reservation, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "email is required")
	}
	var out []domain.Reservation
	err := m.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListReservationsByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNoResults
	}
	return out, nil
}

// CreateHistory snapshots a reservation. The snapshot is never touched again.
func (m *Manager) CreateHistory(ctx context.Context, id uuid.UUID) (domain.ReservationHistory, error) {
	r, err := m.GetByID(ctx, id)
	if err != nil {
		return domain.ReservationHistory{}, err
	}
	h := domain.ReservationHistory{
		ID:            uuid.New(),
		ReservationID: r.ID,
		Email:         r.Email,
		CreatedAt:     r.CreatedAt,
		Collected:     r.Collected,
		SnapshotAt:    m.now().UTC(),
	}
	if err := m.history.InsertHistory(ctx, h); err != nil {
		return domain.ReservationHistory{}, errors.Wrap(err, "store history")
	}
	return h, nil
}

func (m *Manager) ListHistory(ctx context.Context) ([]domain.ReservationHistory, error) {
	return m.history.ListHistory(ctx)
}

func (m *Manager) equipmentFor(ctx context.Context, tx domain.Tx, item domain.ReservationItem) (domain.Equipment, error) {
	e, err := tx.GetEquipment(ctx, item.EquipmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Equipment{}, errors.Wrapf(domain.ErrConflict, "equipment %s for item %s no longer exists", item.EquipmentID, item.ID)
	}
	return e, err
}

// outcome folds the transaction error into the tagged result. Only storage failures and
// caller mistakes are returned as errors.
func (m *Manager) outcome(op string, id uuid.UUID, missing bool, rows int, err error) (domain.WriteResult, error) {
	switch {
	case err == nil:
		return domain.Updated(rows), nil
	case missing:
		return domain.NotFound(), nil
	case domain.IsConflict(err) || errors.Is(err, domain.ErrConflict):
		m.countConflict(op, err)
		m.logger.WithField("reservation_id", id).WithError(err).Warn(op + " rejected")
		return domain.Conflict(), nil
	}
	return domain.WriteResult{}, err
}

func (m *Manager) countConflict(op string, err error) {
	if domain.IsConflict(err) {
		observability.VersionConflicts.WithLabelValues("reservation." + op).Inc()
	}
}

func (m *Manager) audit(ctx context.Context, action string, r domain.Reservation) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.LogReservation(ctx, action, r); err != nil {
		m.logger.WithField("reservation_id", r.ID).WithError(err).Error("audit log failed")
	}
}

func indexOfItem(items []domain.ReservationItem, id uuid.UUID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
