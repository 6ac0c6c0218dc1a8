// README: End-to-end HTTP tests over the gin router with in-memory stores.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sharedride/internal/config"
	httptransport "sharedride/internal/http"
	"sharedride/internal/http/handlers"
	"sharedride/internal/infra"
	"sharedride/internal/modules/dispatch"
	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/payment"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/modules/ride"
	"sharedride/internal/types"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// tokenVerifier treats "uid" or "uid:role" bearer tokens as verified.
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	if raw == "" || raw == "bad" {
		return nil, errors.New("bad token")
	}
	uid, role, _ := strings.Cut(raw, ":")
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.Token{UID: uid, Claims: claims}, nil
}

type testAPI struct {
	router      *gin.Engine
	broadcaster *dispatch.Broadcaster
	registry    *dispatch.MemoryRegistry
	payments    *payment.Service
}

func newTestAPI(t *testing.T, availability bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	codec, err := geocrypt.NewFromHex(testKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	payments := payment.NewService(payment.NewMemoryStore(), zerolog.Nop())
	coord := ride.NewCoordinator(ride.NewMemoryStore(), codec, pricing.NewCalculator(), ride.WithCharger(payments))
	registry := dispatch.NewMemoryRegistry(3)
	hub := dispatch.NewHub(8)
	b := dispatch.NewBroadcaster(coord, registry, dispatch.NewMemoryPendingStore(), hub, config.DispatchConfig{}, zerolog.Nop())

	deps := httptransport.RouterDeps{
		Rides:    coord,
		Dispatch: b,
		Hub:      hub,
		Verifier: tokenVerifier{},
		Checks: map[string]handlers.Pinger{
			"memory": func(context.Context) error { return nil },
		},
		Log: zerolog.Nop(),
	}
	if availability {
		deps.Availability = registry
	}
	r, err := httptransport.NewRouter(deps)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return &testAPI{router: r, broadcaster: b, registry: registry, payments: payments}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	a.broadcaster.Wait()

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func rideBody(originLat, originLng float64) map[string]any {
	return map[string]any{
		"origin":      map[string]any{"label": "Home", "lat": originLat, "lng": originLng},
		"destination": map[string]any{"label": "Office", "lat": 3, "lng": 4},
		"ride_class":  "standard",
	}
}

func (a *testAPI) createRide(t *testing.T, passenger string) string {
	t.Helper()
	w, out := a.do(t, http.MethodPost, "/api/rides", passenger, rideBody(0, 0))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("create: missing id in %s", w.Body.String())
	}
	return id
}

func TestCreateRide(t *testing.T) {
	a := newTestAPI(t, true)
	w, out := a.do(t, http.MethodPost, "/api/rides", "p1", rideBody(0, 0))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if out["status"] != "REQUESTED" || out["fare"] != 7.5 || out["passenger_id"] != "p1" {
		t.Fatalf("unexpected ride %v", out)
	}
}

func TestCreateRideZeroCoordinatesAccepted(t *testing.T) {
	a := newTestAPI(t, true)
	body := rideBody(0, 0)
	body["destination"] = map[string]any{"label": "Null Island", "lat": 0, "lng": 0}
	if w, _ := a.do(t, http.MethodPost, "/api/rides", "p1", body); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateRideValidation(t *testing.T) {
	a := newTestAPI(t, true)
	cases := map[string]map[string]any{
		"missing lat": {
			"origin":      map[string]any{"label": "Home", "lng": 0},
			"destination": map[string]any{"label": "Office", "lat": 3, "lng": 4},
		},
		"latitude out of range": rideBody(91, 0),
		"longitude out of range": rideBody(0, 181),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w, _ := a.do(t, http.MethodPost, "/api/rides", "p1", body); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateRideRequiresPassenger(t *testing.T) {
	a := newTestAPI(t, true)
	if w, _ := a.do(t, http.MethodPost, "/api/rides", "d1:driver", rideBody(0, 0)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/rides", "bad", rideBody(0, 0)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t, true)
	for _, d := range []string{"d1", "d2"} {
		w, _ := a.do(t, http.MethodPut, "/api/drivers/availability", d+":driver", map[string]any{"available": true, "lat": 0.001, "lng": 0.001})
		if w.Code != http.StatusOK {
			t.Fatalf("availability %s: %d %s", d, w.Code, w.Body.String())
		}
	}
	id := a.createRide(t, "p1")

	w, out := a.do(t, http.MethodGet, "/api/drivers/rides/pending", "d1:driver", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("pending: %d %v", w.Code, out)
	}
	w, _ = a.do(t, http.MethodGet, "/api/drivers/rides/open", "d1:driver", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "ciphertext") || strings.Contains(w.Body.String(), `"lat"`) {
		t.Fatalf("open rides leaked coordinates: %s", w.Body.String())
	}

	w, out = a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/accept", "d1:driver", nil)
	if w.Code != http.StatusOK || out["status"] != "MATCHED" || out["driver_id"] != "d1" {
		t.Fatalf("accept: %d %v", w.Code, out)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/accept", "d2:driver", nil); w.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/start", "d2:driver", nil); w.Code != http.StatusForbidden {
		t.Fatalf("start by other driver: expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/complete", "d1:driver", nil); w.Code != http.StatusConflict {
		t.Fatalf("complete before start: expected 409, got %d", w.Code)
	}

	w, out = a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/start", "d1:driver", nil)
	if w.Code != http.StatusOK || out["status"] != "ONGOING" {
		t.Fatalf("start: %d %v", w.Code, out)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/rides/"+id+"/cancel", "p1", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel ongoing: expected 409, got %d", w.Code)
	}
	w, out = a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/complete", "d1:driver", nil)
	if w.Code != http.StatusOK || out["status"] != "COMPLETED" {
		t.Fatalf("complete: %d %v", w.Code, out)
	}

	w, out = a.do(t, http.MethodGet, "/api/rides/"+id, "p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	origin, _ := out["origin"].(map[string]any)
	point, _ := origin["point"].(map[string]any)
	if point["lat"] != 0.0 || origin["label"] != "Home" {
		t.Fatalf("decrypted origin = %v", origin)
	}
	if p, err := a.payments.ForRide(context.Background(), types.ID(id)); err != nil || p.Amount != 7.5 {
		t.Fatalf("payment = %+v, %v", p, err)
	}
}

func TestGetRideParticipantsOnly(t *testing.T) {
	a := newTestAPI(t, true)
	id := a.createRide(t, "p1")

	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "p2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "d1:driver", nil); w.Code != http.StatusForbidden {
		t.Fatalf("unassigned driver: expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "p1:driver", nil); w.Code != http.StatusForbidden {
		t.Fatalf("passenger id with driver role: expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "p1", nil); w.Code != http.StatusOK {
		t.Fatalf("passenger: expected 200, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/accept", "d9:driver", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "d9:driver", nil); w.Code != http.StatusOK {
		t.Fatalf("assigned driver: expected 200, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/"+id, "d9", nil); w.Code != http.StatusForbidden {
		t.Fatalf("driver id with passenger role: expected 403, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/no-such-ride", "p1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides/bad$id", "p1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}
}

func TestCancelAndList(t *testing.T) {
	a := newTestAPI(t, true)
	first := a.createRide(t, "p1")
	a.createRide(t, "p1")
	a.createRide(t, "p2")

	if w, _ := a.do(t, http.MethodPost, "/api/rides/"+first+"/cancel", "p2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("cancel by stranger: expected 403, got %d", w.Code)
	}
	w, out := a.do(t, http.MethodPost, "/api/rides/"+first+"/cancel", "p1", nil)
	if w.Code != http.StatusOK || out["status"] != "CANCELLED" {
		t.Fatalf("cancel: %d %v", w.Code, out)
	}

	w, out = a.do(t, http.MethodGet, "/api/rides?limit=10", "p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	rides, _ := out["rides"].([]any)
	if len(rides) != 2 {
		t.Fatalf("expected 2 rides for p1, got %d", len(rides))
	}
	if w, _ := a.do(t, http.MethodGet, "/api/rides?limit=zero", "p1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestRejectDropsPendingOffer(t *testing.T) {
	a := newTestAPI(t, true)
	a.do(t, http.MethodPut, "/api/drivers/availability", "d1:driver", map[string]any{"available": true, "lat": 0, "lng": 0})
	id := a.createRide(t, "p1")

	if w, _ := a.do(t, http.MethodPost, "/api/drivers/rides/"+id+"/reject", "d1:driver", nil); w.Code != http.StatusOK {
		t.Fatalf("reject: %d", w.Code)
	}
	w, _ := a.do(t, http.MethodGet, "/api/drivers/rides/pending", "d1:driver", nil)
	if strings.Contains(w.Body.String(), id) {
		t.Fatalf("rejected ride still pending: %s", w.Body.String())
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	a := newTestAPI(t, true)
	if w, _ := a.do(t, http.MethodPut, "/api/drivers/availability", "d1:driver", map[string]any{"available": true}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing coordinates: expected 400, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPut, "/api/drivers/availability", "d1:driver", map[string]any{"available": true, "lat": 0, "lng": 0}); w.Code != http.StatusOK {
		t.Fatalf("available: expected 200, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPut, "/api/drivers/availability", "d1:driver", map[string]any{"available": false}); w.Code != http.StatusOK {
		t.Fatalf("unavailable: expected 200, got %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPut, "/api/drivers/availability", "p1", map[string]any{"available": false}); w.Code != http.StatusForbidden {
		t.Fatalf("passenger: expected 403, got %d", w.Code)
	}

	readOnly := newTestAPI(t, false)
	if w, _ := readOnly.do(t, http.MethodPut, "/api/drivers/availability", "d1:driver", map[string]any{"available": false}); w.Code != http.StatusNotImplemented {
		t.Fatalf("read-only registry: expected 501, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, true)
	if w, _ := a.do(t, http.MethodGet, "/health/live", "", nil); w.Code != http.StatusOK {
		t.Fatalf("live: %d", w.Code)
	}
	w, out := a.do(t, http.MethodGet, "/health/ready", "", nil)
	if w.Code != http.StatusOK || out["ready"] != true {
		t.Fatalf("ready: %d %v", w.Code, out)
	}
	if w, _ := a.do(t, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}
