package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collectord/internal/backend"
	"collectord/internal/model"
	"collectord/internal/poller"
	"collectord/internal/signer"
	"collectord/pkg/uid"
)

// Request runs one action for itemID on the calling goroutine and returns its
// outcome.
//
// It fails fast, without creating a pending action, when the item is unknown
// (model.ErrUnknownItem) or already has a live action (model.ErrActionPending).
// Every other ending is an Outcome; failures also return the matching sentinel
// so callers can branch with errors.Is.
func (c *Coordinator) Request(ctx context.Context, itemID string, kind model.ActionKind) (model.Outcome, error) {
	p, actx, out, err := c.begin(ctx, itemID, kind)
	if p == nil {
		return out, err
	}
	return c.run(ctx, actx, p)
}

// Completion is the final result of a submitted action.
type Completion struct {
	Outcome model.Outcome
	Err     error
}

// Submit is Request for callers that cannot block: the pre-action checks run
// synchronously and the rest of the lifecycle continues on its own goroutine.
// done receives exactly one Completion and is then closed.
func (c *Coordinator) Submit(ctx context.Context, itemID string, kind model.ActionKind) (model.PendingAction, <-chan Completion, error) {
	p, actx, _, err := c.begin(ctx, itemID, kind)
	if p == nil {
		return model.PendingAction{}, nil, err
	}
	c.mu.Lock()
	a := p.action
	c.mu.Unlock()

	done := make(chan Completion, 1)
	go func() {
		defer close(done)
		out, err := c.run(ctx, actx, p)
		done <- Completion{Outcome: out, Err: err}
	}()
	return a, done, nil
}

func (c *Coordinator) run(ctx, actx context.Context, p *pending) (model.Outcome, error) {
	itemID, kind := p.action.ItemID, p.action.Kind
	c.record(event(p.action, model.EventStarted, ""))

	if c.deps.Chain != nil {
		if err := c.deps.Chain.Check(actx); err != nil {
			msg := "ledger unreachable, try again"
			if errors.Is(err, model.ErrWrongChain) {
				msg = "wrong network, switch network and try again"
			}
			return c.settle(p, model.ResultUnavailable, "", msg, err, false)
		}
	}

	verdict, err := c.deps.Verifier.Verify(actx, itemID, c.cfg.Holder, kind)
	if err != nil {
		return c.settle(p, model.ResultUnavailable, "", "eligibility could not be verified, try again", err, false)
	}
	if !verdict.Eligible {
		return c.settle(p, model.ResultIneligible, "", verdict.Message, fmt.Errorf("%w: %s", model.ErrIneligible, verdict.Message), false)
	}

	a, ok := c.advance(p, func(a *model.PendingAction) {
		a.Phase = model.PhaseAwaitingSignature
		a.Params = verdict.Params
		a.Deadline = c.now().Add(c.cfg.SignatureTimeout)
	})
	if !ok {
		return c.result(p)
	}
	c.record(event(a, model.EventDispatched, ""))

	handle, err := c.deps.Signer.Request(actx, signer.Request{
		ChainID:   c.cfg.ChainID,
		From:      c.cfg.Holder,
		Tx:        a.Params.Tx,
		Reference: a.ID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return c.settle(p, model.ResultRolledBack, model.ReasonAborted, "request aborted; backend notified", ctx.Err(), true)
		}
		cat := signer.Decode(err)
		return c.settle(p, model.ResultRolledBack, string(cat), rejectionMessage(cat), &model.RevertError{Category: cat, Cause: err}, true)
	}

	a, ok = c.advance(p, func(a *model.PendingAction) {
		a.Phase = model.PhaseSubmitted
		a.Handle = handle
		a.Deadline = time.Time{}
	})
	if !ok {
		c.lateHandle(p, handle)
		return c.result(p)
	}
	c.record(event(a, model.EventSubmitted, ""))

	// Once a handle exists the action is irrevocable: no deadline, no cancel.
	a, _ = c.advance(p, func(a *model.PendingAction) { a.Phase = model.PhaseConfirming })
	receipt, err := c.deps.Confirmer.Wait(actx, handle)
	if err != nil {
		var re *model.RevertError
		if errors.As(err, &re) {
			return c.settle(p, model.ResultRolledBack, string(re.Category), "transaction reverted on the ledger; backend notified", err, true)
		}
		return c.settle(p, model.ResultUnknown, "", "stopped waiting for confirmation; the action may still complete", err, false)
	}
	c.log.Info().Str("item", itemID).Str("handle", handle).Str("block", receipt.BlockNumber).Msg("ledger confirmed")
	c.record(event(a, model.EventConfirmed, ""))

	bound := time.Duration(c.cfg.PollAttempts) * c.cfg.PollInterval
	a, ok = c.advance(p, func(a *model.PendingAction) {
		a.Phase = model.PhaseReconciling
		a.AttemptsLeft = c.cfg.PollAttempts
		// One interval of slack lets the poller's own bound fire first.
		a.Deadline = c.now().Add(bound + c.cfg.PollInterval)
	})
	if !ok {
		return c.result(p)
	}

	res, err := c.poll.Await(actx, poller.Request{
		Holder:      c.cfg.Holder,
		ItemID:      itemID,
		ActionID:    a.ID,
		Expected:    kind.ExpectedStatus(),
		Interval:    c.cfg.PollInterval,
		MaxAttempts: c.cfg.PollAttempts,
		Converged:   p.converged,
		Attempted: func(n int) {
			c.mu.Lock()
			p.action.AttemptsLeft = c.cfg.PollAttempts - n
			c.mu.Unlock()
		},
	})
	if err != nil {
		msg := "stopped waiting for the backend; the action may still complete"
		if errors.Is(err, model.ErrConvergenceTimeout) {
			msg = "status unknown; the action may still complete"
		}
		return c.settle(p, model.ResultUnknown, "", msg, err, false)
	}
	if !res.Converged {
		return c.result(p)
	}
	return c.succeed(actx, p)
}

// Cancel abandons the live action of itemID. Only Verifying and
// AwaitingSignature can be cancelled; the latter notifies the backend.
func (c *Coordinator) Cancel(itemID string) (model.Outcome, error) {
	c.mu.Lock()
	st, ok := c.items[itemID]
	if !ok {
		c.mu.Unlock()
		return model.Outcome{}, fmt.Errorf("%w: %s", model.ErrUnknownItem, itemID)
	}
	p := st.pending
	if p == nil {
		c.mu.Unlock()
		return model.Outcome{}, fmt.Errorf("%w: %s has no pending action", model.ErrNotCancellable, itemID)
	}
	if !p.action.Phase.Cancellable() {
		phase := p.action.Phase
		c.mu.Unlock()
		return model.Outcome{}, fmt.Errorf("%w: %s is %s", model.ErrNotCancellable, itemID, phase)
	}

	compensate := p.action.Phase == model.PhaseAwaitingSignature
	msg := "cancelled"
	if compensate {
		msg = "cancelled; backend notified"
	}
	out := c.outcome(p.action, model.ResultCancelled, model.ReasonUserCancelled, msg)
	c.resolveLocked(p, out, model.ErrCancelled)
	a := p.action
	c.mu.Unlock()

	c.afterResolve(a, out, compensate)
	return out, nil
}

// Sweep enforces every pending deadline as of now and returns how many
// actions it resolved. A signature deadline rolls the action back with
// WalletTimeout; a reconcile deadline gives up with an unknown outcome.
func (c *Coordinator) Sweep(now time.Time) int {
	type expired struct {
		action     model.PendingAction
		out        model.Outcome
		compensate bool
	}
	var done []expired

	c.mu.Lock()
	for _, st := range c.items {
		p := st.pending
		if p == nil || p.action.Deadline.IsZero() || now.Before(p.action.Deadline) {
			continue
		}
		switch p.action.Phase {
		case model.PhaseAwaitingSignature:
			out := c.outcome(p.action, model.ResultRolledBack, model.ReasonWalletTimeout, "no signature received in time; backend notified")
			c.resolveLocked(p, out, fmt.Errorf("%w after %s", model.ErrSignerTimeout, c.cfg.SignatureTimeout))
			done = append(done, expired{p.action, out, true})
		case model.PhaseReconciling:
			out := c.outcome(p.action, model.ResultUnknown, "", "status unknown; the action may still complete")
			c.resolveLocked(p, out, model.ErrConvergenceTimeout)
			done = append(done, expired{p.action, out, false})
		}
	}
	c.mu.Unlock()

	for _, e := range done {
		c.log.Warn().Str("item", e.action.ItemID).Str("action", e.action.ID).Str("phase", string(e.action.Phase)).Msg("deadline elapsed")
		c.afterResolve(e.action, e.out, e.compensate)
	}
	return len(done)
}

// begin validates the request and installs a Verifying action.
func (c *Coordinator) begin(ctx context.Context, itemID string, kind model.ActionKind) (*pending, context.Context, model.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.items[itemID]
	if !ok {
		return nil, nil, model.Outcome{}, fmt.Errorf("%w: %s", model.ErrUnknownItem, itemID)
	}
	if st.pending != nil {
		a := st.pending.action
		return nil, nil, model.Outcome{}, fmt.Errorf("%w: %s has %s in %s", model.ErrActionPending, itemID, a.Kind, a.Phase)
	}
	if !kind.AllowedFrom(st.item.Status) {
		msg := fmt.Sprintf("%s is not available while the item is %s", kind, st.item.Status)
		out := c.outcome(model.PendingAction{ItemID: itemID, Kind: kind}, model.ResultIneligible, "", msg)
		st.last = &out
		return nil, nil, out, fmt.Errorf("%w: %s", model.ErrIneligible, msg)
	}

	actx, abandon := context.WithCancel(ctx)
	p := &pending{
		action: model.PendingAction{
			ID:          uid.New(),
			ItemID:      itemID,
			Kind:        kind,
			Phase:       model.PhaseVerifying,
			SubmittedAt: c.now(),
		},
		abandon:   abandon,
		converged: make(chan struct{}),
	}
	st.pending = p
	return p, actx, model.Outcome{}, nil
}

// advance applies fn to a still-live action.
func (c *Coordinator) advance(p *pending, fn func(a *model.PendingAction)) (model.PendingAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.resolved {
		return p.action, false
	}
	fn(&p.action)
	return p.action, true
}

func (c *Coordinator) result(p *pending) (model.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.outcome, p.err
}

// resolveLocked ends p and clears it from its item in one step. It reports
// false when p was already resolved; only the first resolution counts.
func (c *Coordinator) resolveLocked(p *pending, out model.Outcome, err error) bool {
	if p.resolved {
		return false
	}
	p.resolved = true
	p.outcome = out
	p.err = err
	if st, ok := c.items[p.action.ItemID]; ok && st.pending == p {
		st.pending = nil
		st.last = &out
	}
	p.abandon()
	return true
}

// settle resolves p unless another party already did, and returns whichever
// resolution won. The winner alone journals and compensates.
func (c *Coordinator) settle(p *pending, res model.Result, reason, msg string, err error, compensate bool) (model.Outcome, error) {
	c.mu.Lock()
	out := c.outcome(p.action, res, reason, msg)
	won := c.resolveLocked(p, out, err)
	final, ferr, a := p.outcome, p.err, p.action
	c.mu.Unlock()

	if won {
		c.afterResolve(a, out, compensate)
	}
	return final, ferr
}

// succeed finishes a converged action on the authorization record.
func (c *Coordinator) succeed(ctx context.Context, p *pending) (model.Outcome, error) {
	c.mu.Lock()
	a := p.action
	c.mu.Unlock()

	if a.Kind != model.ActionAuthorize {
		c.deps.Tracker.Clear(a.ItemID)
		msg := "converted"
		if a.Kind == model.ActionReclaim {
			msg = "reclaimed"
		}
		return c.settle(p, model.ResultSucceeded, "", msg, nil, false)
	}

	covered, rerr := c.deps.Tracker.Covers(ctx, a.ItemID, c.cfg.Holder, a.Params)

	// The grant and the status it is gated on are read under the same lock
	// that ApplySnapshot holds while reconciling.
	c.mu.Lock()
	if p.resolved {
		c.mu.Unlock()
		return c.result(p)
	}
	var status model.Status
	if st, ok := c.items[a.ItemID]; ok {
		status = st.item.Status
	}
	var out model.Outcome
	switch {
	case rerr != nil:
		out = c.outcome(a, model.ResultUnknown, "", "authorization confirmed but the allowance could not be read")
	case !covered:
		out = c.outcome(a, model.ResultUnknown, "", "authorization confirmed but the allowance does not cover the conversion")
		rerr = fmt.Errorf("%w: allowance below conversion amount", model.ErrIneligible)
	case !c.deps.Tracker.MarkGranted(a.ItemID, status):
		out = c.outcome(a, model.ResultUnknown, "", fmt.Sprintf("authorization confirmed but the item is now %s", status))
		rerr = fmt.Errorf("%w: item is %s", model.ErrIneligible, status)
	default:
		out = c.outcome(a, model.ResultSucceeded, "", "authorized")
	}
	c.resolveLocked(p, out, rerr)
	c.mu.Unlock()

	c.afterResolve(a, out, false)
	return out, rerr
}

// afterResolve journals the resolution and, when owed, notifies the backend.
// It runs once per action, outside the lock.
func (c *Coordinator) afterResolve(a model.PendingAction, out model.Outcome, compensate bool) {
	// A failed conversion consumes the grant just like a successful one.
	if a.Kind == model.ActionConvert && (out.Result == model.ResultRolledBack || out.Result == model.ResultCancelled) {
		c.deps.Tracker.Clear(a.ItemID)
	}
	c.record(event(a, resultEvent(out.Result), out.Reason))
	if compensate {
		c.rollback(a, out.Reason)
	}
}

func (c *Coordinator) rollback(a model.PendingAction, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
	defer cancel()

	err := c.deps.Backend.Rollback(ctx, backend.RollbackRequest{
		Holder: c.cfg.Holder,
		ItemID: a.ItemID,
		Reason: reason,
	}, a.ID)
	if err != nil {
		c.log.Error().Err(err).Str("item", a.ItemID).Str("action", a.ID).Str("reason", reason).Msg("rollback notification failed")
		c.record(event(a, model.EventRollbackErr, reason))
		return
	}
	c.log.Info().Str("item", a.ItemID).Str("action", a.ID).Str("reason", reason).Msg("backend notified of rollback")
}

// lateHandle logs a handle that arrived after its action was resolved. The
// transaction may still land; the next snapshot will show it.
func (c *Coordinator) lateHandle(p *pending, handle string) {
	c.mu.Lock()
	a := p.action
	c.mu.Unlock()

	c.log.Warn().Str("item", a.ItemID).Str("action", a.ID).Str("handle", handle).Msg("signer returned a handle after the action was resolved")
	ev := event(a, model.EventLateHandle, "")
	ev.Handle = handle
	c.record(ev)
}

func (c *Coordinator) outcome(a model.PendingAction, res model.Result, reason, msg string) model.Outcome {
	return model.Outcome{
		ActionID: a.ID,
		ItemID:   a.ItemID,
		Kind:     a.Kind,
		Result:   res,
		Reason:   reason,
		Message:  msg,
		Handle:   a.Handle,
		At:       c.now(),
	}
}

func resultEvent(r model.Result) string {
	switch r {
	case model.ResultSucceeded:
		return model.EventSucceeded
	case model.ResultRolledBack:
		return model.EventRolledBack
	case model.ResultCancelled:
		return model.EventCancelled
	case model.ResultUnknown:
		return model.EventGaveUp
	}
	return model.EventRefused
}

func rejectionMessage(cat model.RevertCategory) string {
	switch cat {
	case model.RevertUserRejected:
		return "signature rejected; backend notified"
	case model.RevertInsufficientAuthorization:
		return "authorization does not cover this conversion; backend notified"
	case model.RevertInsufficientBalance:
		return "balance is insufficient; backend notified"
	case model.RevertGeneric:
		return "the transaction would revert; backend notified"
	}
	return "signing failed; backend notified"
}
