package authz

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"collectord/internal/logging"
	"collectord/internal/model"

	"github.com/rs/zerolog"
)

// AllowanceReader confirms a grant against ledger state.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, holder, spender string) (*big.Int, error)
}

// Tracker owns the authorization record.
//
// The record is only ever replaced, never mutated: each update derives a new
// Set from the current one and installs it with compare-and-swap, retrying on
// contention, so a concurrent completion can never observe or leave a
// partially updated set.
type Tracker struct {
	record atomic.Pointer[Set]
	ledger AllowanceReader
	log    zerolog.Logger
}

// NewTracker creates a tracker with an empty record.
func NewTracker(ledger AllowanceReader, log zerolog.Logger) *Tracker {
	t := &Tracker{
		ledger: ledger,
		log:    logging.WithComponent(log, "authz"),
	}
	empty := NewSet()
	t.record.Store(&empty)
	return t
}

// Snapshot returns the current record. The returned Set is immutable.
func (t *Tracker) Snapshot() Set {
	return *t.record.Load()
}

// Contains reports whether itemID currently has an observed grant.
func (t *Tracker) Contains(itemID string) bool {
	return t.Snapshot().Contains(itemID)
}

// MarkGranted adds itemID, and only itemID, provided the item's authoritative
// status is still Eligible. It reports whether the grant was recorded.
func (t *Tracker) MarkGranted(itemID string, status model.Status) bool {
	if status != model.StatusEligible {
		t.log.Info().Str("item", itemID).Str("status", string(status)).Msg("grant ignored, item no longer eligible")
		return false
	}
	add := NewSet(itemID)
	t.update(func(prev Set) Set { return prev.Union(add) })
	return true
}

// Covers reports whether the holder's on-ledger allowance covers the amount
// in params. Params that name no token have nothing to read against and count
// as covered: the confirmed ledger action stands on its own.
func (t *Tracker) Covers(ctx context.Context, itemID, holder string, params model.ConversionParams) (bool, error) {
	amount, ok := params.AmountInt()
	if t.ledger == nil || params.Token == "" || params.Spender == "" || !ok {
		return true, nil
	}
	allowance, err := t.ledger.Allowance(ctx, params.Token, holder, params.Spender)
	if err != nil {
		return false, fmt.Errorf("confirm grant for %s: %w", itemID, err)
	}
	if allowance.Cmp(amount) < 0 {
		t.log.Warn().Str("item", itemID).Str("allowance", allowance.String()).Str("amount", amount.String()).Msg("allowance below required amount")
		return false, nil
	}
	return true, nil
}

// Reconcile filters the record against an authoritative snapshot.
func (t *Tracker) Reconcile(snap model.Snapshot) Set {
	return t.update(func(prev Set) Set { return Reconciled(prev, snap) })
}

// Clear removes a single id.
func (t *Tracker) Clear(itemID string) {
	drop := NewSet(itemID)
	t.update(func(prev Set) Set { return prev.Difference(drop) })
}

func (t *Tracker) update(derive func(prev Set) Set) Set {
	for {
		cur := t.record.Load()
		next := derive(*cur)
		if t.record.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

// Reconciled derives the record implied by a snapshot. It only ever removes ids:
// a full snapshot keeps the ids it shows as Eligible, a partial snapshot drops
// the ids it shows in any other status and leaves unlisted ids alone.
func Reconciled(prev Set, snap model.Snapshot) Set {
	if snap.Partial {
		drop := make([]string, 0, len(snap.Items))
		for _, it := range snap.Items {
			if it.Status != model.StatusEligible {
				drop = append(drop, it.ID)
			}
		}
		return prev.Difference(NewSet(drop...))
	}
	keep := make([]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		if it.Status == model.StatusEligible {
			keep = append(keep, it.ID)
		}
	}
	return prev.Intersect(NewSet(keep...))
}
