package reservation

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
)

type eventItem struct {
	ItemID      uuid.UUID `json:"item_id"`
	EquipmentID uuid.UUID `json:"equipment_id"`
	Quantity    int       `json:"quantity"`
	Returned    bool      `json:"returned"`
}

type eventPayload struct {
	ReservationID uuid.UUID   `json:"reservation_id"`
	Email         string      `json:"email"`
	Status        string      `json:"status"`
	Collected     bool        `json:"collected"`
	Version       int64       `json:"version"`
	Items         []eventItem `json:"items"`
}

func newEvent(eventType string, r domain.Reservation) domain.Event {
	p := eventPayload{
		ReservationID: r.ID,
		Email:         r.Email,
		Status:        r.Status,
		Collected:     r.Collected,
		Version:       int64(r.Version),
		Items:         make([]eventItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		p.Items = append(p.Items, eventItem{
			ItemID:      item.ID,
			EquipmentID: item.EquipmentID,
			Quantity:    item.Quantity,
			Returned:    item.Returned,
		})
	}
	// The payload only holds plain values, so marshalling cannot fail.
	payload, _ := json.Marshal(p)

	return domain.Event{
		ID:            uuid.New(),
		AggregateType: "reservation",
		AggregateID:   r.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	}
}
