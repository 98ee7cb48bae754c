package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
)

// Store keeps everything in process. Transactions are serialized and work on a copy of the
// state that replaces the original only on commit.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	equipment    map[uuid.UUID]domain.Equipment
	reservations map[uuid.UUID]domain.Reservation
	order        []uuid.UUID
	outbox       []domain.Event
	history      []domain.ReservationHistory
}

func NewStore() *Store {
	return &Store{state: &state{
		equipment:    make(map[uuid.UUID]domain.Equipment),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}}
}

func (s *state) clone() *state {
	c := &state{
		equipment:    make(map[uuid.UUID]domain.Equipment, len(s.equipment)),
		reservations: make(map[uuid.UUID]domain.Reservation, len(s.reservations)),
		order:        append([]uuid.UUID(nil), s.order...),
		outbox:       append([]domain.Event(nil), s.outbox...),
		history:      append([]domain.ReservationHistory(nil), s.history...),
	}
	for id, e := range s.equipment {
		c.equipment[id] = e
	}
	for id, r := range s.reservations {
		c.reservations[id] = copyReservation(r)
	}
	return c
}

func copyReservation(r domain.Reservation) domain.Reservation {
	r.Items = append([]domain.ReservationItem(nil), r.Items...)
	return r
}

func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) GetEquipment(ctx context.Context, id uuid.UUID) (domain.Equipment, error) {
	e, ok := t.st.equipment[id]
	if !ok {
		return domain.Equipment{}, domain.ErrNotFound
	}
	return e, nil
}

func (t *tx) GetEquipmentByName(ctx context.Context, name string) (domain.Equipment, error) {
	for _, e := range t.st.equipment {
		if e.Name == name {
			return e, nil
		}
	}
	return domain.Equipment{}, domain.ErrNotFound
}

func (t *tx) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	out := make([]domain.Equipment, 0, len(t.st.equipment))
	for _, e := range t.st.equipment {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) InsertEquipment(ctx context.Context, e domain.Equipment) error {
	if _, ok := t.st.equipment[e.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "equipment %s already exists", e.ID)
	}
	if _, err := t.GetEquipmentByName(ctx, e.Name); err == nil {
		return errors.Wrapf(domain.ErrConflict, "equipment name %q already taken", e.Name)
	}
	t.st.equipment[e.ID] = e
	return nil
}

func (t *tx) UpdateEquipment(ctx context.Context, e domain.Equipment, expected domain.Version) (domain.Version, error) {
	cur, ok := t.st.equipment[e.ID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if cur.Version != expected {
		return 0, domain.ErrVersionConflict
	}
	if other, err := t.GetEquipmentByName(ctx, e.Name); err == nil && other.ID != e.ID {
		return 0, errors.Wrapf(domain.ErrConflict, "equipment name %q already taken", e.Name)
	}
	e.Version = expected.Next()
	t.st.equipment[e.ID] = e
	return e.Version, nil
}

func (t *tx) DeleteEquipment(ctx context.Context, id uuid.UUID, expected domain.Version) error {
	cur, ok := t.st.equipment[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != expected {
		return domain.ErrVersionConflict
	}
	for _, r := range t.st.reservations {
		for _, item := range r.Items {
			if item.EquipmentID == id {
				return errors.Wrapf(domain.ErrConflict, "equipment %s is referenced by reservation %s", id, r.ID)
			}
		}
	}
	delete(t.st.equipment, id)
	return nil
}

func (t *tx) OutstandingQuantity(ctx context.Context, equipmentID uuid.UUID) (int, error) {
	total := 0
	for _, r := range t.st.reservations {
		total += r.Outstanding()[equipmentID]
	}
	return total, nil
}

func (t *tx) InsertReservation(ctx context.Context, r domain.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "reservation %s already exists", r.ID)
	}
	for _, item := range r.Items {
		if _, ok := t.st.equipment[item.EquipmentID]; !ok {
			return errors.Wrapf(domain.ErrConflict, "unknown equipment %s", item.EquipmentID)
		}
	}
	t.st.reservations[r.ID] = copyReservation(r)
	t.st.order = append(t.st.order, r.ID)
	return nil
}

func (t *tx) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return copyReservation(r), nil
}

func (t *tx) ListReservations(ctx context.Context) ([]domain.Reservation, error) {
	return t.filter(func(domain.Reservation) bool { return true }), nil
}

func (t *tx) ListReservationsByEmail(ctx context.Context, email string) ([]domain.Reservation, error) {
	return t.filter(func(r domain.Reservation) bool { return strings.EqualFold(r.Email, email) }), nil
}

func (t *tx) filter(keep func(domain.Reservation) bool) []domain.Reservation {
	var out []domain.Reservation
	for _, id := range t.st.order {
		r := t.st.reservations[id]
		if keep(r) {
			out = append(out, copyReservation(r))
		}
	}
	return out
}

func (t *tx) UpdateReservation(ctx context.Context, r domain.Reservation, expected domain.Version) (domain.Version, error) {
	cur, ok := t.st.reservations[r.ID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if cur.Version != expected {
		return 0, domain.ErrVersionConflict
	}
	cur.Status = r.Status
	cur.Collected = r.Collected
	cur.Version = expected.Next()
	t.st.reservations[r.ID] = cur
	return cur.Version, nil
}

func (t *tx) UpdateReservationItem(ctx context.Context, reservationID uuid.UUID, item domain.ReservationItem, expected domain.Version) (domain.Version, error) {
	cur, ok := t.st.reservations[reservationID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	for i := range cur.Items {
		if cur.Items[i].ID != item.ID {
			continue
		}
		if cur.Items[i].Version != expected {
			return 0, domain.ErrVersionConflict
		}
		cur.Items[i].Quantity = item.Quantity
		cur.Items[i].Returned = item.Returned
		cur.Items[i].Version = expected.Next()
		t.st.reservations[reservationID] = cur
		return cur.Items[i].Version, nil
	}
	return 0, domain.ErrNotFound
}

func (t *tx) DeleteReservation(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.st.reservations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(t.st.reservations, id)
	for i, rid := range t.st.order {
		if rid == id {
			t.st.order = append(t.st.order[:i], t.st.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, e domain.Event) error {
	if e.Status == "" {
		e.Status = "NEW"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.st.outbox = append(t.st.outbox, e)
	return nil
}

func (s *Store) InsertHistory(ctx context.Context, h domain.ReservationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.history = append(s.state.history, h)
	return nil
}

func (s *Store) ListHistory(ctx context.Context) ([]domain.ReservationHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ReservationHistory, len(s.state.history))
	for i, h := range s.state.history {
		out[len(out)-1-i] = h
	}
	return out, nil
}

func (s *Store) GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.state.outbox {
		if e.Status != "NEW" {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.outbox {
		if s.state.outbox[i].ID == id {
			at := publishedAt
			s.state.outbox[i].Status = "PUBLISHED"
			s.state.outbox[i].PublishedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}
