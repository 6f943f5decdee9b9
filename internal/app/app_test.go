package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/conflict"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev notify.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) types() []notify.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]notify.EventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type testApp struct {
	container *Container
	emitter   *recordingEmitter
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	emitter := &recordingEmitter{}
	c := NewContainer(Config{
		JWTSecret:       "test-secret",
		JWTTTL:          30 * time.Minute,
		Scheduling:      conflict.DefaultConfig(),
		TxMaxAttempts:   3,
		Emitter:         emitter,
		OutboxInterval:  time.Hour,
		OutboxBatchSize: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Relay.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testApp{container: c, emitter: emitter}
}

func (a *testApp) generateToken(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := a.container.JWTManager.GenerateAccessToken(userID, role)
	require.NoError(t, err)
	return token
}

func (a *testApp) executeRequest(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody []byte
	if body != nil {
		reqBody, _ = json.Marshal(body)
	}

	req, _ := http.NewRequest(method, path, bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.container.Router.ServeHTTP(w, req)
	return w
}

func parse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t)
	w := a.executeRequest(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookingLifecycleEndToEnd(t *testing.T) {
	a := newTestApp(t)
	ownerToken := a.generateToken(t, "owner-1", auth.RoleVenueOwner)
	clientToken := a.generateToken(t, "client-1", auth.RoleClient)
	rivalToken := a.generateToken(t, "client-2", auth.RoleClient)

	w := a.executeRequest(http.MethodPost, "/v1/resources", map[string]any{"kind": "venue", "name": "Garden Hall"}, ownerToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	venueID := parse(t, w)["id"].(string)

	day := time.Now().UTC().AddDate(0, 0, 10).Truncate(24 * time.Hour)
	slot := func(from, to int) map[string]any {
		return map[string]any{
			"resource_id": venueID,
			"start_time":  day.Add(time.Duration(from) * time.Hour),
			"end_time":    day.Add(time.Duration(to) * time.Hour),
		}
	}

	// A holds 14-16, B overlaps it, C touches its end.
	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(14, 16), clientToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bookingID := parse(t, w)["id"].(string)

	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(15, 17), rivalToken)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "ScheduleConflict", parse(t, w)["kind"])

	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(16, 18), rivalToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(9, 11), ownerToken)
	assert.Equal(t, http.StatusForbidden, w.Code, "owners cannot book their own venue")

	w = a.executeRequest(http.MethodPatch, "/v1/bookings/"+bookingID+"/status", map[string]any{"status": "confirmed"}, ownerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Move A to the morning; the owner approves.
	w = a.executeRequest(http.MethodPost, "/v1/bookings/"+bookingID+"/reschedules", map[string]any{
		"start_time": day.Add(9 * time.Hour),
	}, clientToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rescheduleID := parse(t, w)["reschedule"].(map[string]any)["id"].(string)

	w = a.executeRequest(http.MethodPost, "/v1/reschedules/"+rescheduleID+"/resolve", map[string]any{"decision": "approve"}, ownerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The afternoon slot is free again, the morning one is taken.
	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(14, 15), rivalToken)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = a.executeRequest(http.MethodPost, "/v1/bookings", slot(10, 12), rivalToken)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = a.executeRequest(http.MethodGet, "/v1/bookings?as=client", nil, clientToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, parse(t, w)["total"])

	w = a.executeRequest(http.MethodGet, "/v1/bookings?as=owner", nil, ownerToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, parse(t, w)["total"])

	require.Eventually(t, func() bool {
		return len(a.emitter.types()) == 6
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []notify.EventType{
		notify.BookingCreated,
		notify.BookingCreated,
		notify.BookingConfirmed,
		notify.RescheduleProposed,
		notify.RescheduleApproved,
		notify.BookingCreated,
	}, a.emitter.types())
}

func TestUnknownFieldsRejected(t *testing.T) {
	a := newTestApp(t)
	ownerToken := a.generateToken(t, "owner-1", auth.RoleVenueOwner)

	w := a.executeRequest(http.MethodPost, "/v1/resources", map[string]any{
		"kind":  "venue",
		"name":  "Hall",
		"price": 100,
	}, ownerToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
