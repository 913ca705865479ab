package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"collectord/internal/coordinator"
	"collectord/internal/model"
	"collectord/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	items     map[string]coordinator.View
	submitted []model.ActionKind
	submitErr error
	cancelErr error
	refresh   error
}

func (f *fakeCoordinator) Holder() string { return "0xabc" }

func (f *fakeCoordinator) Items() []coordinator.View {
	var out []coordinator.View
	for _, id := range sortedKeys(f.items) {
		out = append(out, f.items[id])
	}
	return out
}

func (f *fakeCoordinator) Item(id string) (coordinator.View, error) {
	v, ok := f.items[id]
	if !ok {
		return coordinator.View{}, fmt.Errorf("%w: %s", model.ErrUnknownItem, id)
	}
	return v, nil
}

func (f *fakeCoordinator) Authorized() []string { return nil }

func (f *fakeCoordinator) Pending() []model.PendingAction {
	return []model.PendingAction{
		{ID: "b", SubmittedAt: time.Unix(20, 0)},
		{ID: "a", SubmittedAt: time.Unix(10, 0)},
	}
}

func (f *fakeCoordinator) Submit(ctx context.Context, itemID string, kind model.ActionKind) (model.PendingAction, <-chan coordinator.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return model.PendingAction{}, nil, f.submitErr
	}
	f.submitted = append(f.submitted, kind)
	done := make(chan coordinator.Completion, 1)
	done <- coordinator.Completion{Outcome: model.Outcome{ItemID: itemID, Result: model.ResultSucceeded}}
	close(done)
	return model.PendingAction{ID: "act-1", ItemID: itemID, Kind: kind, Phase: model.PhaseVerifying}, done, nil
}

func (f *fakeCoordinator) Cancel(itemID string) (model.Outcome, error) {
	if f.cancelErr != nil {
		return model.Outcome{}, f.cancelErr
	}
	return model.Outcome{ItemID: itemID, Result: model.ResultCancelled}, nil
}

func (f *fakeCoordinator) Refresh(context.Context) error { return f.refresh }

type fakeHistory struct {
	got repository.JournalFilter
}

func (h *fakeHistory) List(_ context.Context, f repository.JournalFilter) ([]model.ActionEvent, int64, error) {
	h.got = f
	return []model.ActionEvent{{ID: 1, ItemID: "X", Event: model.EventStarted}}, 41, nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
		Total int64 `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newRouter(coord *fakeCoordinator, hist History) http.Handler {
	items := NewItemHandler(coord)
	actions := NewActionHandler(context.Background(), coord, hist, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/items", items.List)
	r.Get("/items/{id}", items.Get)
	r.Get("/pending", items.Pending)
	r.Post("/refresh", items.Refresh)
	r.Post("/items/{id}/actions/{kind}", actions.Start)
	r.Post("/items/{id}/cancel", actions.Cancel)
	r.Get("/history", actions.History)
	return r
}

func do(t *testing.T, h http.Handler, method, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestItems(t *testing.T) {
	coord := &fakeCoordinator{items: map[string]coordinator.View{
		"X": {Item: model.Item{ID: "X", Status: model.StatusEligible}, Phase: model.PhaseIdle},
	}}
	h := newRouter(coord, nil)

	code, env := do(t, h, http.MethodGet, "/items")
	assert.Equal(t, http.StatusOK, code)
	var list ItemsResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, "0xabc", list.Holder)
	require.Len(t, list.Items, 1)
	assert.Equal(t, model.StatusEligible, list.Items[0].Status)

	code, env = do(t, h, http.MethodGet, "/items/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "UNKNOWN_ITEM", env.Error.Code)

	code, env = do(t, h, http.MethodGet, "/pending")
	assert.Equal(t, http.StatusOK, code)
	var pending struct {
		Actions []model.PendingAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	assert.Equal(t, "a", pending.Actions[0].ID, "oldest first")
}

func TestRefresh_BackendDown(t *testing.T) {
	h := newRouter(&fakeCoordinator{refresh: errors.New("dial tcp: refused")}, nil)
	code, env := do(t, h, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
}

func TestStartAction(t *testing.T) {
	coord := &fakeCoordinator{}
	h := newRouter(coord, nil)

	code, env := do(t, h, http.MethodPost, "/items/X/actions/convert")
	assert.Equal(t, http.StatusAccepted, code)
	var a model.PendingAction
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, "act-1", a.ID)
	assert.Equal(t, model.ActionConvert, a.Kind)

	code, env = do(t, h, http.MethodPost, "/items/X/actions/explode")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, []model.ActionKind{model.ActionConvert}, coord.submitted)

	coord.submitErr = fmt.Errorf("%w: X has Convert in Confirming", model.ErrActionPending)
	code, env = do(t, h, http.MethodPost, "/items/X/actions/authorize")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ACTION_PENDING", env.Error.Code)
}

func TestCancelAction(t *testing.T) {
	coord := &fakeCoordinator{}
	h := newRouter(coord, nil)

	code, env := do(t, h, http.MethodPost, "/items/X/cancel")
	assert.Equal(t, http.StatusOK, code)
	var out model.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, model.ResultCancelled, out.Result)

	coord.cancelErr = fmt.Errorf("%w: X is Confirming", model.ErrNotCancellable)
	code, env = do(t, h, http.MethodPost, "/items/X/cancel")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_CANCELLABLE", env.Error.Code)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{}
	h := newRouter(&fakeCoordinator{}, hist)

	code, env := do(t, h, http.MethodGet, "/history?item=X&page=3&limit=10")
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 3, env.Meta.Page)
	assert.Equal(t, int64(41), env.Meta.Total)
	assert.Equal(t, repository.JournalFilter{ItemID: "X", Limit: 10, Offset: 20}, hist.got)

	code, env = do(t, h, http.MethodGet, "/history?action=nope")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = do(t, newRouter(&fakeCoordinator{}, nil), http.MethodGet, "/history")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

type fakeChannel struct {
	reconnects int
}

func (c *fakeChannel) Status() model.ChannelStatus {
	return model.ChannelStatus{State: model.ConnFailed, RetryCount: 10}
}

func (c *fakeChannel) Reconnect(context.Context) { c.reconnects++ }

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	h := NewHealthHandler("1.0.0", map[string]Pinger{"cache": ok, "journal": ok}, &fakeChannel{})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "a failed push channel does not gate readiness")

	h = NewHealthHandler("1.0.0", map[string]Pinger{"cache": ok, "journal": down}, nil)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &ready))
	assert.False(t, ready.Ready)
	require.Len(t, ready.Checks, 3)
	assert.Equal(t, "journal", ready.Checks[2].Name)
	assert.Equal(t, "failed", ready.Checks[2].Status)
}

type chainFunc func() uint64

func (f chainFunc) ObservedChainID() uint64 { return f() }

func TestStatus_ReportsObservedChain(t *testing.T) {
	h := NewHealthHandler("1.0.0", nil, nil)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "chain_id", "no chain read yet")

	h = h.WithChain(chainFunc(func() uint64 { return 137 }))
	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var status StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, uint64(137), status.ChainID)
	assert.Equal(t, "collectord", status.Service)
}

func TestChannel(t *testing.T) {
	ch := &fakeChannel{}
	h := NewChannelHandler(context.Background(), ch)

	rec := httptest.NewRecorder()
	h.Reconnect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/channel/reconnect", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ch.reconnects)

	rec = httptest.NewRecorder()
	NewChannelHandler(context.Background(), nil).Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/channel", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "push channel disabled")
}
