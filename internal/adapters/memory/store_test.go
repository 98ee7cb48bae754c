package memory

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	e := domain.Equipment{ID: uuid.New(), Name: "HDMI-kabel", Quantity: 5, Version: domain.InitialVersion}
	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error { return tx.InsertEquipment(ctx, e) }))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx domain.Tx) error {
		e.Quantity = 0
		if _, err := tx.UpdateEquipment(ctx, e, domain.InitialVersion); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		got, err := tx.GetEquipment(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Quantity)
		assert.Equal(t, domain.InitialVersion, got.Version)
		return nil
	}))
}

func TestWithTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewStore().WithTx(ctx, func(tx domain.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestGuardedWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	e := domain.Equipment{ID: uuid.New(), Name: "Projektor", Quantity: 1, Version: domain.InitialVersion}
	r := domain.Reservation{
		ID:      uuid.New(),
		Email:   "student@uni.dk",
		Status:  domain.StatusAfventer,
		Version: domain.InitialVersion,
		Items: []domain.ReservationItem{{
			ID: uuid.New(), EquipmentID: e.ID, EquipmentName: e.Name, Quantity: 1, Returned: true, Version: domain.InitialVersion,
		}},
	}

	err := s.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertEquipment(ctx, e); err != nil {
			return err
		}
		if err := tx.InsertEquipment(ctx, domain.Equipment{ID: uuid.New(), Name: "Projektor"}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected name conflict, got %v", err)
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}

		_, err := tx.UpdateReservation(ctx, r, domain.Version(7))
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		_, err = tx.UpdateReservationItem(ctx, r.ID, domain.ReservationItem{ID: uuid.New()}, domain.InitialVersion)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		next, err := tx.UpdateReservationItem(ctx, r.ID, r.Items[0], domain.InitialVersion)
		require.NoError(t, err)
		assert.Equal(t, domain.Version(2), next)

		out, err := tx.OutstandingQuantity(ctx, e.ID)
		require.NoError(t, err)
		assert.Zero(t, out)

		// a returned item still pins its equipment
		assert.ErrorIs(t, tx.DeleteEquipment(ctx, e.ID, e.Version), domain.ErrConflict)
		return nil
	})
	require.NoError(t, err)
}

func TestListReservationsByEmail_IgnoresCase(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		for _, email := range []string{"Student@Uni.dk", "other@uni.dk"} {
			if err := tx.InsertReservation(ctx, domain.Reservation{ID: uuid.New(), Email: email, Version: domain.InitialVersion}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx domain.Tx) error {
		list, err := tx.ListReservationsByEmail(ctx, "student@uni.dk")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Student@Uni.dk", list[0].Email)
		return nil
	}))
}
