// Package coordinator drives the per-item action lifecycle: eligibility,
// signature, ledger confirmation and backend convergence, with compensation
// on every failure path.
//
// Each item has its own sub-state machine. The coordinator mutex only guards
// the item table and is never held across I/O.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"collectord/internal/authz"
	"collectord/internal/backend"
	"collectord/internal/eligibility"
	"collectord/internal/ledger"
	"collectord/internal/logging"
	"collectord/internal/model"
	"collectord/internal/poller"
	"collectord/internal/signer"

	"github.com/rs/zerolog"
)

// Verifier validates an action with the backend.
type Verifier interface {
	Verify(ctx context.Context, itemID, holder string, kind model.ActionKind) (eligibility.Result, error)
}

// Backend is the authoritative record: item query and rollback notification.
type Backend interface {
	Items(ctx context.Context, holder string) ([]model.Item, error)
	Rollback(ctx context.Context, in backend.RollbackRequest, idempotencyKey string) error
}

// Confirmer waits for a ledger receipt.
type Confirmer interface {
	Wait(ctx context.Context, handle string) (ledger.Receipt, error)
}

// ChainGuard verifies the ledger is on the expected chain.
type ChainGuard interface {
	Check(ctx context.Context) error
}

// Journal persists action transitions.
type Journal interface {
	Record(ctx context.Context, ev model.ActionEvent) error
}

// SnapshotStore keeps the last full snapshot of a holder.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, holder string) (model.Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
}

// Config holds the coordinator's timing parameters.
type Config struct {
	Holder           string
	ChainID          uint64
	SignatureTimeout time.Duration
	PollInterval     time.Duration
	PollAttempts     int
	SweepInterval    time.Duration
	// IOTimeout bounds rollback, journal and cache calls.
	IOTimeout time.Duration
}

// Deps are the collaborators. Journal, Snapshots and Chain are optional.
type Deps struct {
	Verifier  Verifier
	Signer    signer.Signer
	Confirmer Confirmer
	Backend   Backend
	Tracker   *authz.Tracker
	Journal   Journal
	Snapshots SnapshotStore
	Chain     ChainGuard
}

// View is the read-only picture of one item handed to the UI layer.
type View struct {
	model.Item
	Phase       model.Phase          `json:"phase"`
	Authorized  bool                 `json:"authorized"`
	Pending     *model.PendingAction `json:"pending,omitempty"`
	LastOutcome *model.Outcome       `json:"last_outcome,omitempty"`
}

type itemState struct {
	item    model.Item
	pending *pending
	last    *model.Outcome
}

// pending is the live record of one PendingAction. resolved flips exactly once,
// under the coordinator mutex, and the party flipping it owns any compensation.
type pending struct {
	action model.PendingAction

	abandon  context.CancelFunc
	resolved bool
	outcome  model.Outcome
	err      error

	converged     chan struct{}
	convergedOnce sync.Once
}

func (p *pending) markConverged() {
	p.convergedOnce.Do(func() { close(p.converged) })
}

// Coordinator owns the item table and the authorization record.
type Coordinator struct {
	cfg  Config
	deps Deps

	poll *poller.Poller
	now  func() time.Time
	log  zerolog.Logger

	mu    sync.Mutex
	items map[string]*itemState
}

// New creates a coordinator.
func New(cfg Config, deps Deps, log zerolog.Logger) *Coordinator {
	if cfg.SignatureTimeout <= 0 {
		cfg.SignatureTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 60
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	if deps.Tracker == nil {
		deps.Tracker = authz.NewTracker(nil, log)
	}

	c := &Coordinator{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		log:   logging.WithComponent(log, "coordinator"),
		items: make(map[string]*itemState),
	}
	c.poll = poller.New(deps.Backend, c, log)
	return c
}

// Holder returns the session holder.
func (c *Coordinator) Holder() string { return c.cfg.Holder }

// Start runs the sweep on its interval until ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			}
		}
	}()
}

// OnChannelState refreshes from the backend whenever the push channel opens,
// since messages may have been missed while it was down.
func (c *Coordinator) OnChannelState(st model.ChannelStatus) {
	if st.State != model.ConnOpen {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Msg("refresh after reconnect failed")
		}
	}()
}

// Items returns every known item, sorted by id.
func (c *Coordinator) Items() []View {
	auth := c.deps.Tracker.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]View, 0, len(c.items))
	for id, st := range c.items {
		out = append(out, st.view(auth.Contains(id)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Item returns one item.
func (c *Coordinator) Item(id string) (View, error) {
	auth := c.deps.Tracker.Contains(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.items[id]
	if !ok {
		return View{}, model.ErrUnknownItem
	}
	return st.view(auth), nil
}

// Authorized returns the ids in the authorization record.
func (c *Coordinator) Authorized() []string {
	return c.deps.Tracker.Snapshot().IDs()
}

// Pending returns a copy of every pending action.
func (c *Coordinator) Pending() []model.PendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.PendingAction, 0)
	for _, st := range c.items {
		if st.pending != nil {
			out = append(out, st.pending.action)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// StillPending reports whether actionID is the live action of itemID.
func (c *Coordinator) StillPending(itemID, actionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.items[itemID]
	return ok && st.pending != nil && st.pending.action.ID == actionID
}

func (st *itemState) view(authorized bool) View {
	v := View{Item: st.item, Phase: model.PhaseIdle, Authorized: authorized}
	if st.pending != nil {
		a := st.pending.action
		v.Phase = a.Phase
		v.Pending = &a
	}
	if st.last != nil {
		o := *st.last
		v.LastOutcome = &o
	}
	return v
}

// record journals ev. Failures are logged only.
func (c *Coordinator) record(ev model.ActionEvent) {
	c.log.Debug().Str("item", ev.ItemID).Str("action", ev.ActionID).Str("event", ev.Event).Str("reason", ev.Reason).Msg("action event")
	if c.deps.Journal == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = c.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
	defer cancel()
	if err := c.deps.Journal.Record(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("action", ev.ActionID).Msg("journal write failed")
	}
}

func event(a model.PendingAction, name, reason string) model.ActionEvent {
	return model.ActionEvent{
		ActionID: a.ID,
		ItemID:   a.ItemID,
		Kind:     a.Kind,
		Phase:    a.Phase,
		Event:    name,
		Reason:   reason,
		Handle:   a.Handle,
	}
}
