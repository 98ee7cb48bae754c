package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/reservation"
)

type createItemRequest struct {
	Equipment string `json:"equipment" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type createReservationRequest struct {
	Email  string              `json:"email" validate:"required"`
	Status string              `json:"status" validate:"omitempty,oneof=Afventer Reserveret Aktiv Afhentet Inaktiv"`
	Items  []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r createReservationRequest) items() []reservation.NewItem {
	out := make([]reservation.NewItem, len(r.Items))
	for i, item := range r.Items {
		out[i] = reservation.NewItem{EquipmentName: item.Equipment, Quantity: item.Quantity}
	}
	return out
}

type updateItemRequest struct {
	ID         uuid.UUID            `json:"id"`
	Quantity   domain.Optional[int] `json:"quantity"`
	RowVersion string               `json:"rowVersion" validate:"required,base64"`
}

type updateReservationRequest struct {
	Status     domain.Optional[string] `json:"status"`
	Collected  domain.Optional[bool]   `json:"collected"`
	Items      []updateItemRequest     `json:"items" validate:"dive"`
	RowVersion string                  `json:"rowVersion" validate:"required,base64"`
}

func (r updateReservationRequest) toDomain() (reservation.UpdateRequest, error) {
	expected, err := domain.ParseToken(r.RowVersion)
	if err != nil {
		return reservation.UpdateRequest{}, err
	}
	req := reservation.UpdateRequest{
		Status:          r.Status,
		Collected:       r.Collected,
		ExpectedVersion: expected,
	}
	for _, item := range r.Items {
		v, err := domain.ParseToken(item.RowVersion)
		if err != nil {
			return reservation.UpdateRequest{}, err
		}
		req.Items = append(req.Items, reservation.ItemUpdate{ID: item.ID, Quantity: item.Quantity, ExpectedVersion: v})
	}
	return req, nil
}

type createEquipmentRequest struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type updateEquipmentRequest struct {
	Name       domain.Optional[string] `json:"name"`
	Quantity   domain.Optional[int]    `json:"quantity"`
	RowVersion string                  `json:"rowVersion" validate:"required,base64"`
}

type itemResponse struct {
	ID          uuid.UUID `json:"id"`
	EquipmentID uuid.UUID `json:"equipmentId"`
	Equipment   string    `json:"equipment"`
	Quantity    int       `json:"quantity"`
	Returned    bool      `json:"returned"`
	RowVersion  string    `json:"rowVersion"`
}

type reservationResponse struct {
	ID         uuid.UUID      `json:"id"`
	Email      string         `json:"email"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	Collected  bool           `json:"collected"`
	Items      []itemResponse `json:"items"`
	RowVersion string         `json:"rowVersion"`
}

func toReservationResponse(r domain.Reservation) reservationResponse {
	resp := reservationResponse{
		ID:         r.ID,
		Email:      r.Email,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		Collected:  r.Collected,
		Items:      make([]itemResponse, len(r.Items)),
		RowVersion: r.Version.Token(),
	}
	for i, item := range r.Items {
		resp.Items[i] = itemResponse{
			ID:          item.ID,
			EquipmentID: item.EquipmentID,
			Equipment:   item.EquipmentName,
			Quantity:    item.Quantity,
			Returned:    item.Returned,
			RowVersion:  item.Version.Token(),
		}
	}
	return resp
}

func toReservationResponses(rs []domain.Reservation) []reservationResponse {
	out := make([]reservationResponse, len(rs))
	for i, r := range rs {
		out[i] = toReservationResponse(r)
	}
	return out
}

type equipmentResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	RowVersion string    `json:"rowVersion"`
}

func toEquipmentResponse(e domain.Equipment) equipmentResponse {
	return equipmentResponse{ID: e.ID, Name: e.Name, Quantity: e.Quantity, RowVersion: e.Version.Token()}
}

type historyResponse struct {
	ID            uuid.UUID `json:"id"`
	ReservationID uuid.UUID `json:"reservationId"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	Collected     bool      `json:"collected"`
	SnapshotAt    time.Time `json:"snapshotAt"`
}

func toHistoryResponse(h domain.ReservationHistory) historyResponse {
	return historyResponse{
		ID:            h.ID,
		ReservationID: h.ReservationID,
		Email:         h.Email,
		CreatedAt:     h.CreatedAt,
		Collected:     h.Collected,
		SnapshotAt:    h.SnapshotAt,
	}
}
