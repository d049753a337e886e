package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xparking/internal/bus"
	"xparking/internal/orchestrator"
	"xparking/internal/token"
	"xparking/internal/vehicle"
	"xparking/pkg/platform/sentinel"
)

type fakeController struct {
	entryErr  error
	exitErr   error
	cashErr   error
	cancelled bool

	lastCredential string
	lastOperator   string
	barrierLane    bus.Lane
	barrierOpen    bool
}

func (f *fakeController) TriggerEntry(ctx context.Context, credential, operator string) error {
	f.lastCredential, f.lastOperator = credential, operator
	return f.entryErr
}

func (f *fakeController) TriggerExit(ctx context.Context, credential, operator string) error {
	f.lastCredential, f.lastOperator = credential, operator
	return f.exitErr
}

func (f *fakeController) CancelPayment(ctx context.Context) bool { return f.cancelled }

func (f *fakeController) ManualCashPayment(ctx context.Context, confirmedBy string) error {
	f.lastOperator = confirmedBy
	return f.cashErr
}

func (f *fakeController) ManualBarrier(ctx context.Context, lane bus.Lane, open bool, operator string) {
	f.barrierLane, f.barrierOpen, f.lastOperator = lane, open, operator
}

func (f *fakeController) Status(ctx context.Context) orchestrator.Snapshot {
	return orchestrator.Snapshot{State: orchestrator.StateIdle, Capacity: 3}
}

type fixture struct {
	controller *fakeController
	store      *vehicle.InMemoryStore
	server     *httptest.Server
	authHeader string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	controller := &fakeController{}
	store := vehicle.NewInMemoryStore()
	tokens := token.NewService("test-key", "xparking-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := NewHandler(controller, store, tokens, Health{
		BusConnected: func() bool { return true },
	}, logger)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	signed, err := tokens.Issue("op-1", "operator", time.Hour)
	require.NoError(t, err)

	return &fixture{
		controller: controller,
		store:      store,
		server:     server,
		authHeader: "Bearer " + signed,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", f.authHeader)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOpsRequireAuth(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/ops/entry", "/ops/exit", "/ops/payment/cancel", "/ops/payment/cash"} {
		resp := f.do(t, http.MethodPost, path, `{"credential":"CARD001"}`, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := f.do(t, http.MethodGet, "/history", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTriggerEntry(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/ops/entry", `{"credential":"CARD001"}`, true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "CARD001", f.controller.lastCredential)
	assert.Equal(t, "op-1", f.controller.lastOperator)
}

func TestTriggerEntry_MissingCredential(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/ops/entry", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTriggerEntry_Busy(t *testing.T) {
	f := newFixture(t)
	f.controller.entryErr = orchestrator.ErrBusy

	resp := f.do(t, http.MethodPost, "/ops/entry", `{"credential":"CARD001"}`, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTriggerExit_NotFound(t *testing.T) {
	f := newFixture(t)
	f.controller.exitErr = sentinel.ErrNotFound

	resp := f.do(t, http.MethodPost, "/ops/exit", `{"credential":"GHOST"}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	f.controller.cancelled = true

	resp := f.do(t, http.MethodPost, "/ops/payment/cancel", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["cancelled"])
}

func TestCashPayment_UsesTokenOperator(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/ops/payment/cash", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "op-1", f.controller.lastOperator)
}

func TestManualBarrier(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/ops/barrier/out/open", "", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, bus.LaneOut, f.controller.barrierLane)
	assert.True(t, f.controller.barrierOpen)

	resp = f.do(t, http.MethodPost, "/ops/barrier/sideways/open", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusIsOpen(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/status", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "IDLE", body["state"])
	assert.Equal(t, true, body["bus_connected"])
}

func TestHealthzReportsDisconnectedBus(t *testing.T) {
	controller := &fakeController{}
	tokens := token.NewService("test-key", "xparking-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(controller, vehicle.NewInMemoryStore(), tokens, Health{
		BusConnected: func() bool { return false },
	}, logger)
	server := httptest.NewServer(NewRouter(handler))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHistoryAndRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.CreateEntry(ctx, vehicle.Entry{Plate: "29A-123.45", Credential: "CARD001", EntryTime: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, f.store.CloseExit(ctx, id, vehicle.Exit{ExitTime: time.Now(), Fee: 20000}))

	resp := f.do(t, http.MethodGet, "/history?plate=29A", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Sessions []historyEntry `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Sessions, 1)
	assert.Equal(t, "EXITED", history.Sessions[0].Status)

	resp = f.do(t, http.MethodGet, "/revenue", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var revenue map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&revenue))
	assert.Equal(t, int64(20000), revenue["revenue"])

	resp = f.do(t, http.MethodGet, "/revenue?from=bogus", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
