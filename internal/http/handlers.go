package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/equipment-reservations/internal/domain"
	"github.com/robertarktes/equipment-reservations/internal/idempotency"
	"github.com/robertarktes/equipment-reservations/internal/inventory"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"github.com/robertarktes/equipment-reservations/internal/reservation"
)

type Handlers struct {
	reservations *reservation.Manager
	ledger       *inventory.Ledger
	idemp        *idempotency.Idempotency
	validate     *validator.Validate
	logger       observability.Logger
	checks       map[string]func(context.Context) error
}

func NewHandlers(reservations *reservation.Manager, ledger *inventory.Ledger, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		reservations: reservations,
		ledger:       ledger,
		idemp:        idemp,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger,
		checks:       make(map[string]func(context.Context) error),
	}
}

// AddReadinessCheck registers a dependency probe run by Readyz.
func (h *Handlers) AddReadinessCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reservations.Create(r.Context(), req.Email, req.Status, req.items())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, r, toReservationResponse(res))
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponses(list))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res, err := h.reservations.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) ListUserReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.GetByUserEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponses(list))
}

func (h *Handlers) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	upd, err := req.toDomain()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.reservations.Update(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res, http.StatusNoContent, nil)
}

func (h *Handlers) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res, err := h.reservations.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res, http.StatusNoContent, nil)
}

func (h *Handlers) ReturnReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res, err := h.reservations.ReturnItems(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res, http.StatusOK, map[string]int{"updatedRows": res.Rows})
}

func (h *Handlers) CreateHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	hist, err := h.reservations.CreateHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHistoryResponse(hist))
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.ListHistory(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]historyResponse, len(list))
	for i, hist := range list {
		out[i] = toHistoryResponse(hist)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CreateEquipment(w http.ResponseWriter, r *http.Request) {
	var req createEquipmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.ledger.Create(r.Context(), req.Name, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, r, toEquipmentResponse(e))
}

func (h *Handlers) ListEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]equipmentResponse, len(list))
	for i, e := range list {
		out[i] = toEquipmentResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	e, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEquipmentResponse(e))
}

func (h *Handlers) UpdateEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateEquipmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	expected, err := domain.ParseToken(req.RowVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.ledger.Update(r.Context(), id, inventory.UpdateRequest{Name: req.Name, Quantity: req.Quantity}, expected)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEquipmentResponse(e))
}

// DeleteEquipment takes the row version from the rowVersion query parameter.
func (h *Handlers) DeleteEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	expected, err := domain.ParseToken(r.URL.Query().Get("rowVersion"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ledger.Delete(r.Context(), id, expected); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		loggerFrom(r.Context(), h.logger).WithField("failed", failed).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeCreated answers a POST and remembers the answer under the request's Idempotency-Key.
func (h *Handlers) writeCreated(w http.ResponseWriter, r *http.Request, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	key := r.Header.Get(idempotencyHeader)
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
		loggerFrom(r.Context(), h.logger).WithError(err).Warn("failed to store idempotent response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoResults):
		http.Error(w, err.Error(), http.StatusNotFound)
	case domain.IsConflict(err):
		http.Error(w, "conflict, reload and try again", http.StatusConflict)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		loggerFrom(r.Context(), h.logger).WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeResult(w http.ResponseWriter, res domain.WriteResult, okStatus int, body any) {
	switch res.Outcome {
	case domain.OutcomeNotFound:
		http.Error(w, "not found", http.StatusNotFound)
	case domain.OutcomeConflict:
		http.Error(w, "conflict, reload and try again", http.StatusConflict)
	default:
		if body == nil {
			w.WriteHeader(okStatus)
			return
		}
		writeJSON(w, okStatus, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
