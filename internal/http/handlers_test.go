package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/equipment-reservations/internal/adapters/memory"
	httphandler "github.com/robertarktes/equipment-reservations/internal/http"
	"github.com/robertarktes/equipment-reservations/internal/idempotency"
	"github.com/robertarktes/equipment-reservations/internal/inventory"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"github.com/robertarktes/equipment-reservations/internal/rateLimit"
	"github.com/robertarktes/equipment-reservations/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID         string `json:"id"`
	Equipment  string `json:"equipment"`
	Quantity   int    `json:"quantity"`
	Returned   bool   `json:"returned"`
	RowVersion string `json:"rowVersion"`
}

type reservationBody struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Status     string `json:"status"`
	Collected  bool   `json:"collected"`
	Items      []item `json:"items"`
	RowVersion string `json:"rowVersion"`
}

type equipmentBody struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	RowVersion string `json:"rowVersion"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	logger := observability.NewDiscardLogger()
	h := httphandler.NewHandlers(
		reservation.NewManager(store, store, logger),
		inventory.NewLedger(store, logger),
		idempotency.NewIdempotency(nil, time.Hour),
		logger,
	)
	srv := httptest.NewServer(httphandler.SetupRouter(h, logger, rateLimit.NewRateLimiter(nil), 100, idempotency.NewIdempotency(nil, time.Hour)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, target string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, target, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	srv := newServer(t)

	var hdmi equipmentBody
	status := do(t, http.MethodPost, srv.URL+"/v1/equipment", map[string]any{"name": "HDMI-kabel", "quantity": 5}, &hdmi)
	require.Equal(t, http.StatusCreated, status)

	var res reservationBody
	status = do(t, http.MethodPost, srv.URL+"/v1/reservations", map[string]any{
		"email": "student@uni.dk",
		"items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 2}},
	}, &res)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Afventer", res.Status)
	require.Len(t, res.Items, 1)

	status = do(t, http.MethodPost, srv.URL+"/v1/reservations", map[string]any{
		"email": "other@uni.dk",
		"items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 4}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = do(t, http.MethodGet, srv.URL+"/v1/equipment/"+hdmi.ID, nil, &hdmi)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, hdmi.Quantity)

	var mine []reservationBody
	status = do(t, http.MethodGet, srv.URL+"/v1/reservations/user/student@uni.dk", nil, &mine)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, mine, 1)

	status = do(t, http.MethodPut, srv.URL+"/v1/reservations/"+res.ID, map[string]any{
		"status":     "Aktiv",
		"rowVersion": res.RowVersion,
	}, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = do(t, http.MethodPut, srv.URL+"/v1/reservations/"+res.ID, map[string]any{
		"collected":  true,
		"rowVersion": res.RowVersion,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = do(t, http.MethodPost, srv.URL+"/v1/reservations/"+res.ID+"/return", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status = do(t, http.MethodGet, srv.URL+"/v1/reservations/"+res.ID, nil, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Inaktiv", res.Status)
	assert.True(t, res.Items[0].Returned)

	status = do(t, http.MethodPost, srv.URL+"/v1/reservations/"+res.ID+"/history", nil, nil)
	assert.Equal(t, http.StatusCreated, status)

	status = do(t, http.MethodDelete, srv.URL+"/v1/reservations/"+res.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status = do(t, http.MethodDelete, srv.URL+"/v1/reservations/"+res.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = do(t, http.MethodGet, srv.URL+"/v1/reservations", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var history []map[string]any
	status = do(t, http.MethodGet, srv.URL+"/v1/history", nil, &history)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history, 1)

	status = do(t, http.MethodGet, srv.URL+"/v1/equipment/"+hdmi.ID, nil, &hdmi)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, hdmi.Quantity)
}

func TestReservationValidation(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing email", map[string]any{"items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 1}}}},
		{"no items", map[string]any{"email": "student@uni.dk", "items": []map[string]any{}}},
		{"bad quantity", map[string]any{"email": "student@uni.dk", "items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 0}}}},
		{"unknown status", map[string]any{"email": "student@uni.dk", "status": "Lost", "items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/v1/reservations", tt.body, nil))
		})
	}

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/v1/reservations/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, srv.URL+"/v1/reservations/00000000-0000-0000-0000-000000000001", map[string]any{"rowVersion": "AAE="}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPut, srv.URL+"/v1/reservations/00000000-0000-0000-0000-000000000001", map[string]any{"rowVersion": "AAAAAAAAAAE="}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/v1/reservations/00000000-0000-0000-0000-000000000001/return", nil, nil))
}

func TestEquipmentOverHTTP(t *testing.T) {
	srv := newServer(t)

	var e equipmentBody
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/v1/equipment", map[string]any{"name": "Projektor", "quantity": 2}, &e))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, srv.URL+"/v1/equipment", map[string]any{"name": "Projektor", "quantity": 1}, nil))

	stale := e.RowVersion
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, srv.URL+"/v1/equipment/"+e.ID, map[string]any{"quantity": 4, "rowVersion": e.RowVersion}, &e))
	assert.Equal(t, 4, e.Quantity)
	assert.Equal(t, "Projektor", e.Name)
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPut, srv.URL+"/v1/equipment/"+e.ID, map[string]any{"name": "Beamer", "rowVersion": stale}, nil))

	var list []equipmentBody
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/equipment", nil, &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusConflict, do(t, http.MethodDelete, srv.URL+"/v1/equipment/"+e.ID+"?rowVersion="+url.QueryEscape(stale), nil, nil))
	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, srv.URL+"/v1/equipment/"+e.ID+"?rowVersion="+url.QueryEscape(e.RowVersion), nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/v1/equipment/"+e.ID, nil, nil))
}

func TestReadyz(t *testing.T) {
	store := memory.NewStore()
	logger := observability.NewDiscardLogger()
	idemp := idempotency.NewIdempotency(nil, time.Hour)
	h := httphandler.NewHandlers(reservation.NewManager(store, store, logger), inventory.NewLedger(store, logger), idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(h, logger, rateLimit.NewRateLimiter(nil), 100, idemp))
	defer srv.Close()

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/readyz", nil, nil))

	h.AddReadinessCheck("crdb", func(context.Context) error { return errors.New("connection refused") })
	var failed map[string]string
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/readyz", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	assert.Equal(t, "connection refused", failed["crdb"])
}

func TestUpdateReservation_NullLeavesFieldAlone(t *testing.T) {
	srv := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/v1/equipment", map[string]any{"name": "Mikrofon", "quantity": 3}, nil))

	var res reservationBody
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/v1/reservations", map[string]any{
		"email": "student@uni.dk",
		"items": []map[string]any{{"equipment": "Mikrofon", "quantity": 1}},
	}, &res))

	require.Equal(t, http.StatusNoContent, do(t, http.MethodPut, srv.URL+"/v1/reservations/"+res.ID, map[string]any{
		"collected":  true,
		"rowVersion": res.RowVersion,
	}, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/reservations/"+res.ID, nil, &res))
	require.True(t, res.Collected)

	require.Equal(t, http.StatusNoContent, do(t, http.MethodPut, srv.URL+"/v1/reservations/"+res.ID, map[string]any{
		"collected":  nil,
		"status":     "Aktiv",
		"rowVersion": res.RowVersion,
	}, nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/reservations/"+res.ID, nil, &res))
	assert.True(t, res.Collected)
	assert.Equal(t, "Aktiv", res.Status)
}

func TestCreateReservation_AcceptsAnyRequesterString(t *testing.T) {
	srv := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/v1/equipment", map[string]any{"name": "Kamera", "quantity": 1}, nil))

	var res reservationBody
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/v1/reservations", map[string]any{
		"email": "Lab kiosk 3",
		"items": []map[string]any{{"equipment": "Kamera", "quantity": 1}},
	}, &res))
	assert.Equal(t, "Lab kiosk 3", res.Email)

	var mine []reservationBody
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/reservations/user/"+url.PathEscape("Lab kiosk 3"), nil, &mine))
	assert.Len(t, mine, 1)
}
