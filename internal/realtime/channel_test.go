package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"collectord/internal/model"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer accepts websocket clients and forwards envelopes pushed on send.
type pushServer struct {
	send chan any
}

func newPushServer(t *testing.T) (*pushServer, *httptest.Server) {
	t.Helper()
	ps := &pushServer{send: make(chan any, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ps.send:
				if raw, ok := msg.(string); ok {
					if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
						return
					}
					continue
				}
				if err := wsjson.Write(ctx, conn, msg); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return ps, srv
}

// deadURL returns a URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

type stateRecorder struct {
	mu     sync.Mutex
	states []model.ChannelStatus
}

func (r *stateRecorder) record(s model.ChannelStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) sawOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s.State == model.ConnOpen {
			return true
		}
	}
	return false
}

func TestBackoff_ExponentialCapped(t *testing.T) {
	b := newBackoff(Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second})

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestChannel_DeliversEnvelopes(t *testing.T) {
	ps, srv := newPushServer(t)
	got := make(chan model.Envelope, 4)
	ch := New(Config{URL: srv.URL, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 3},
		func(env model.Envelope) { got <- env }, zerolog.Nop())

	ch.Connect(context.Background())
	defer ch.Disconnect()

	ps.send <- "{not json"
	ps.send <- model.Envelope{Type: "mystery", Data: json.RawMessage(`{}`)}
	ps.send <- model.Envelope{Type: model.EnvelopeItemsUpdate, Data: json.RawMessage(`{"holder":"0xh","items":[]}`)}

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case env := <-got:
			types = append(types, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("envelope not delivered")
		}
	}
	assert.Equal(t, []string{"mystery", model.EnvelopeItemsUpdate}, types, "malformed frames are dropped, unknown types passed on")
	assert.Equal(t, model.ConnOpen, ch.Status().State)
	assert.Equal(t, 0, ch.Status().RetryCount)
}

func TestChannel_FailsAfterMaxRetries(t *testing.T) {
	rec := &stateRecorder{}
	ch := New(Config{URL: deadURL(t), BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxRetries: 3}, nil, zerolog.Nop())
	ch.OnState(rec.record)

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.Status().State == model.ConnFailed }, 2*time.Second, time.Millisecond)

	assert.Equal(t, 3, ch.Status().RetryCount)
	assert.NotEmpty(t, ch.Status().LastError)
	assert.False(t, rec.sawOpen())
}

func TestChannel_ReconnectAfterFailed(t *testing.T) {
	ch := New(Config{URL: deadURL(t), BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 2}, nil, zerolog.Nop())
	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.Status().State == model.ConnFailed }, 2*time.Second, time.Millisecond)

	_, srv := newPushServer(t)
	ch.cfg.URL = srv.URL
	ch.Reconnect(context.Background())
	defer ch.Disconnect()

	require.Eventually(t, func() bool { return ch.Status().State == model.ConnOpen }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, ch.Status().RetryCount)
}

func TestChannel_ReconnectRetriesOnce(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := New(Config{URL: srv.URL, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 5}, nil, zerolog.Nop())
	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.Status().State == model.ConnFailed }, 2*time.Second, time.Millisecond)
	require.Equal(t, int32(5), dials.Load())

	ch.Reconnect(context.Background())
	require.Eventually(t, func() bool {
		return ch.Status().State == model.ConnFailed && dials.Load() == 6
	}, 2*time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(6), dials.Load(), "a failed reconnect does not restart the full cycle")
	assert.Equal(t, 1, ch.Status().RetryCount)
	ch.Disconnect()
}

func TestChannel_RetryCountResetsOnOpen(t *testing.T) {
	var accepts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepts++
		n := accepts
		mu.Unlock()
		if n < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-conn.CloseRead(r.Context()).Done()
		conn.CloseNow()
	}))
	defer srv.Close()

	rec := &stateRecorder{}
	ch := New(Config{URL: srv.URL, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 5}, nil, zerolog.Nop())
	ch.OnState(rec.record)
	ch.Connect(context.Background())
	defer ch.Disconnect()

	require.Eventually(t, func() bool { return ch.Status().State == model.ConnOpen }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, ch.Status().RetryCount)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	maxRetry := 0
	for _, s := range rec.states {
		if s.RetryCount > maxRetry {
			maxRetry = s.RetryCount
		}
	}
	assert.Equal(t, 2, maxRetry, "two failed attempts before the open")
}

func TestChannel_DisconnectIsIdempotent(t *testing.T) {
	_, srv := newPushServer(t)
	ch := New(Config{URL: srv.URL, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 3}, nil, zerolog.Nop())

	ch.Disconnect()
	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.Status().State == model.ConnOpen }, 2*time.Second, time.Millisecond)

	ch.Disconnect()
	ch.Disconnect()
	assert.Equal(t, model.ConnClosed, ch.Status().State)
}
