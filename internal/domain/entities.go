package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusAfventer   = "Afventer"
	StatusReserveret = "Reserveret"
	StatusAktiv      = "Aktiv"
	StatusAfhentet   = "Afhentet"
	StatusInaktiv    = "Inaktiv"
)

var statuses = map[string]struct{}{
	StatusAfventer:   {},
	StatusReserveret: {},
	StatusAktiv:      {},
	StatusAfhentet:   {},
	StatusInaktiv:    {},
}

// ValidStatus reports whether s is one of the reservation status labels.
func ValidStatus(s string) bool {
	_, ok := statuses[s]
	return ok
}

// Equipment is an inventory record. Quantity is what is available to borrow right now.
type Equipment struct {
	ID       uuid.UUID
	Name     string
	Quantity int
	Version  Version
}

type Reservation struct {
	ID        uuid.UUID
	Email     string
	Status    string
	CreatedAt time.Time
	Collected bool
	Items     []ReservationItem
	Version   Version
}

type ReservationItem struct {
	ID            uuid.UUID
	EquipmentID   uuid.UUID
	EquipmentName string
	Quantity      int
	Returned      bool
	Version       Version
}

// Outstanding returns the summed quantity of items not yet returned, per equipment.
func (r Reservation) Outstanding() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, item := range r.Items {
		if !item.Returned {
			out[item.EquipmentID] += item.Quantity
		}
	}
	return out
}

type ReservationHistory struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	Email         string
	CreatedAt     time.Time
	Collected     bool
	SnapshotAt    time.Time
}

// Event is a lifecycle notification written to the outbox in the same transaction as the change.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

const (
	EventReservationCreated  = "reservation.created"
	EventReservationUpdated  = "reservation.updated"
	EventReservationReturned = "reservation.returned"
	EventReservationDeleted  = "reservation.deleted"
)
