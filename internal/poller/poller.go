// Package poller waits, within a fixed bound, for the authoritative record to
// converge on the status expected after a confirmed ledger action.
package poller

import (
	"context"
	"fmt"
	"time"

	"collectord/internal/logging"
	"collectord/internal/model"

	"github.com/rs/zerolog"
)

// Fetcher returns the full authoritative item list of a holder.
type Fetcher interface {
	Items(ctx context.Context, holder string) ([]model.Item, error)
}

// Sink receives every fetched snapshot and owns the pending-action table.
type Sink interface {
	ApplySnapshot(snap model.Snapshot)
	StillPending(itemID, actionID string) bool
}

// Request describes one bounded wait.
type Request struct {
	Holder      string
	ItemID      string
	ActionID    string
	Expected    model.Status
	Interval    time.Duration
	MaxAttempts int

	// Converged is closed by whoever observes convergence first (for example
	// a push message); it short-circuits polling.
	Converged <-chan struct{}

	// Attempted, when set, is called after every fetch with the attempt number.
	Attempted func(attempt int)
}

// Result reports how the wait ended.
type Result struct {
	Converged bool
	Removed   bool
	Attempts  int
	Last      model.Item
	Seen      bool
}

// Poller issues the fetches.
type Poller struct {
	fetch Fetcher
	sink  Sink
	now   func() time.Time
	log   zerolog.Logger
}

// New creates a poller.
func New(fetch Fetcher, sink Sink, log zerolog.Logger) *Poller {
	return &Poller{
		fetch: fetch,
		sink:  sink,
		now:   time.Now,
		log:   logging.WithComponent(log, "poller"),
	}
}

// Await fetches immediately and then every Interval until the item shows the
// expected status, MaxAttempts fetches were made, the action left the pending
// table, or Converged was closed. The whole wait is bounded by
// MaxAttempts*Interval; an in-flight fetch is abandoned at the bound.
//
// Exhaustion returns model.ErrConvergenceTimeout with the last seen item.
func (p *Poller) Await(ctx context.Context, req Request) (Result, error) {
	if req.MaxAttempts < 1 {
		req.MaxAttempts = 1
	}
	bound := time.Duration(req.MaxAttempts) * req.Interval
	parent := ctx
	ctx, cancel := context.WithDeadline(parent, p.now().Add(bound))
	defer cancel()

	var res Result
	timer := time.NewTimer(req.Interval)
	timer.Stop()
	defer timer.Stop()

	for res.Attempts < req.MaxAttempts {
		if done := p.settled(req, &res); done {
			return res, nil
		}

		res.Attempts++
		items, err := p.fetch.Items(ctx, req.Holder)
		if req.Attempted != nil {
			req.Attempted(res.Attempts)
		}
		if err != nil {
			p.log.Debug().Err(err).Str("item", req.ItemID).Int("attempt", res.Attempts).Msg("authoritative fetch failed")
		} else {
			p.sink.ApplySnapshot(model.Snapshot{
				Holder:  req.Holder,
				Items:   items,
				Source:  model.SourcePoll,
				TakenAt: p.now(),
			})
			for _, it := range items {
				if it.ID == req.ItemID {
					res.Last, res.Seen = it, true
					if it.Status == req.Expected {
						res.Converged = true
						return res, nil
					}
				}
			}
		}

		if res.Attempts >= req.MaxAttempts {
			break
		}
		timer.Reset(req.Interval)
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return res, err
			}
			if p.settled(req, &res) {
				return res, nil
			}
			return res, p.exhausted(req, res)
		case <-req.Converged:
			res.Converged = true
			return res, nil
		case <-timer.C:
		}
	}

	if p.settled(req, &res) {
		return res, nil
	}
	return res, p.exhausted(req, res)
}

// settled reports whether polling should stop without another fetch.
func (p *Poller) settled(req Request, res *Result) bool {
	select {
	case <-req.Converged:
		res.Converged = true
		return true
	default:
	}
	if !p.sink.StillPending(req.ItemID, req.ActionID) {
		res.Removed = true
		return true
	}
	return false
}

func (p *Poller) exhausted(req Request, res Result) error {
	p.log.Warn().Str("item", req.ItemID).Int("attempts", res.Attempts).Str("expected", string(req.Expected)).Msg("gave up waiting for convergence")
	return fmt.Errorf("%w: %s not %s after %d attempts", model.ErrConvergenceTimeout, req.ItemID, req.Expected, res.Attempts)
}
