package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store hands out transaction-scoped handles. The Tx passed to fn is only valid until fn returns;
// the transaction commits when fn returns nil and rolls back otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations a lifecycle operation may perform inside one transaction.
// Versioned writes take the version the caller last read and return the new one; a mismatch
// yields ErrVersionConflict and a missing row ErrNotFound.
type Tx interface {
	GetEquipment(ctx context.Context, id uuid.UUID) (Equipment, error)
	GetEquipmentByName(ctx context.Context, name string) (Equipment, error)
	ListEquipment(ctx context.Context) ([]Equipment, error)
	InsertEquipment(ctx context.Context, e Equipment) error
	UpdateEquipment(ctx context.Context, e Equipment, expected Version) (Version, error)
	DeleteEquipment(ctx context.Context, id uuid.UUID, expected Version) error
	OutstandingQuantity(ctx context.Context, equipmentID uuid.UUID) (int, error)

	InsertReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
	ListReservations(ctx context.Context) ([]Reservation, error)
	ListReservationsByEmail(ctx context.Context, email string) ([]Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation, expected Version) (Version, error)
	UpdateReservationItem(ctx context.Context, reservationID uuid.UUID, item ReservationItem, expected Version) (Version, error)
	DeleteReservation(ctx context.Context, id uuid.UUID) error

	InsertOutbox(ctx context.Context, e Event) error
}

type HistoryStore interface {
	InsertHistory(ctx context.Context, h ReservationHistory) error
	ListHistory(ctx context.Context) ([]ReservationHistory, error)
}

type OutboxStore interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}
