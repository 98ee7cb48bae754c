// Package inventory keeps the available quantity of every piece of equipment.
//
// All writes are optimistic: a caller presents the version it last read and the write is
// rejected with domain.ErrVersionConflict when another writer got there first.
package inventory

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/observability"
)

type Ledger struct {
	store  domain.Store
	logger observability.Logger
}

func NewLedger(store domain.Store, logger observability.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.WithField("component", "inventory")}
}

type UpdateRequest struct {
	Name     domain.Optional[string]
	Quantity domain.Optional[int]
}

func (l *Ledger) FindByName(ctx context.Context, name string) (domain.Equipment, error) {
	var e domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		e, err = tx.GetEquipmentByName(ctx, name)
		return err
	})
	return e, err
}

func (l *Ledger) Decrement(ctx context.Context, name string, qty int, expected domain.Version) (domain.Equipment, error) {
	var e domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		e, err = DecrementIn(ctx, tx, name, qty, expected)
		return err
	})
	if domain.IsConflict(err) {
		observability.VersionConflicts.WithLabelValues("inventory.decrement").Inc()
	}
	return e, err
}

func (l *Ledger) Increment(ctx context.Context, name string, qty int, expected domain.Version) (domain.Equipment, error) {
	var e domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		e, err = IncrementIn(ctx, tx, name, qty, expected)
		return err
	})
	if domain.IsConflict(err) {
		observability.VersionConflicts.WithLabelValues("inventory.increment").Inc()
	}
	return e, err
}

// DecrementIn is Decrement inside a transaction the caller already holds.
func DecrementIn(ctx context.Context, tx domain.Tx, name string, qty int, expected domain.Version) (domain.Equipment, error) {
	e, err := lookup(ctx, tx, name, expected)
	if err != nil {
		return domain.Equipment{}, err
	}
	return Debit(ctx, tx, e, qty)
}

// IncrementIn is Increment inside a transaction the caller already holds.
func IncrementIn(ctx context.Context, tx domain.Tx, name string, qty int, expected domain.Version) (domain.Equipment, error) {
	e, err := lookup(ctx, tx, name, expected)
	if err != nil {
		return domain.Equipment{}, err
	}
	return Credit(ctx, tx, e, qty)
}

func lookup(ctx context.Context, tx domain.Tx, name string, expected domain.Version) (domain.Equipment, error) {
	e, err := tx.GetEquipmentByName(ctx, name)
	if err != nil {
		return domain.Equipment{}, err
	}
	if e.Version != expected {
		return domain.Equipment{}, domain.ErrVersionConflict
	}
	return e, nil
}

// Debit takes qty out of e, guarded by the version e was read at.
func Debit(ctx context.Context, tx domain.Tx, e domain.Equipment, qty int) (domain.Equipment, error) {
	if qty <= 0 {
		return domain.Equipment{}, errors.Wrapf(domain.ErrInvalidInput, "quantity must be positive, got %d", qty)
	}
	if qty > e.Quantity {
		return domain.Equipment{}, errors.Wrapf(domain.ErrInsufficientStock, "%s: requested %d, available %d", e.Name, qty, e.Quantity)
	}
	return write(ctx, tx, e, e.Quantity-qty)
}

// Credit puts qty back into e, guarded by the version e was read at. There is no upper bound.
func Credit(ctx context.Context, tx domain.Tx, e domain.Equipment, qty int) (domain.Equipment, error) {
	if qty <= 0 {
		return domain.Equipment{}, errors.Wrapf(domain.ErrInvalidInput, "quantity must be positive, got %d", qty)
	}
	return write(ctx, tx, e, e.Quantity+qty)
}

func write(ctx context.Context, tx domain.Tx, e domain.Equipment, quantity int) (domain.Equipment, error) {
	expected := e.Version
	e.Quantity = quantity
	next, err := tx.UpdateEquipment(ctx, e, expected)
	if err != nil {
		return domain.Equipment{}, err
	}
	e.Version = next
	return e, nil
}

func (l *Ledger) Create(ctx context.Context, name string, quantity int) (domain.Equipment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Equipment{}, errors.Wrap(domain.ErrInvalidInput, "name is required")
	}
	if quantity < 0 {
		return domain.Equipment{}, errors.Wrap(domain.ErrInvalidInput, "quantity must not be negative")
	}

	e := domain.Equipment{
		ID:       uuid.New(),
		Name:     name,
		Quantity: quantity,
		Version:  domain.InitialVersion,
	}
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.InsertEquipment(ctx, e)
	})
	if err != nil {
		return domain.Equipment{}, err
	}
	l.logger.WithField("equipment_id", e.ID).Info("equipment created")
	return e, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (domain.Equipment, error) {
	var e domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		e, err = tx.GetEquipment(ctx, id)
		return err
	})
	return e, err
}

func (l *Ledger) List(ctx context.Context) ([]domain.Equipment, error) {
	var out []domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListEquipment(ctx)
		return err
	})
	return out, err
}

func (l *Ledger) Update(ctx context.Context, id uuid.UUID, req UpdateRequest, expected domain.Version) (domain.Equipment, error) {
	var e domain.Equipment
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		e, err = tx.GetEquipment(ctx, id)
		if err != nil {
			return err
		}
		if e.Version != expected {
			return domain.ErrVersionConflict
		}
		if name, ok := req.Name.Get(); ok {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.Wrap(domain.ErrInvalidInput, "name must not be empty")
			}
			e.Name = name
		}
		if qty, ok := req.Quantity.Get(); ok {
			if qty < 0 {
				return errors.Wrap(domain.ErrInvalidInput, "quantity must not be negative")
			}
			e.Quantity = qty
		}
		e.Version, err = tx.UpdateEquipment(ctx, e, expected)
		return err
	})
	if err != nil {
		if domain.IsConflict(err) {
			observability.VersionConflicts.WithLabelValues("inventory.update").Inc()
		}
		return domain.Equipment{}, err
	}
	return e, nil
}

// Delete refuses to drop equipment that still has items out on loan.
func (l *Ledger) Delete(ctx context.Context, id uuid.UUID, expected domain.Version) error {
	err := l.store.WithTx(ctx, func(tx domain.Tx) error {
		out, err := tx.OutstandingQuantity(ctx, id)
		if err != nil {
			return err
		}
		if out > 0 {
			return errors.Wrapf(domain.ErrConflict, "%d units of equipment %s are still reserved", out, id)
		}
		return tx.DeleteEquipment(ctx, id, expected)
	})
	if err != nil {
		if domain.IsConflict(err) {
			observability.VersionConflicts.WithLabelValues("inventory.delete").Inc()
		}
		return err
	}
	l.logger.WithField("equipment_id", id).Info("equipment deleted")
	return nil
}
