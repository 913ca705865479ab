package authz

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"collectord/internal/ledger"
	"collectord/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAllowance struct {
	v   *big.Int
	err error
}

func (s stubAllowance) Allowance(context.Context, string, string, string) (*big.Int, error) {
	return s.v, s.err
}

func item(id string, st model.Status) model.Item {
	return model.Item{ID: id, Status: st, Owned: true}
}

func TestSet_Operations(t *testing.T) {
	a := NewSet("x", "y")
	b := NewSet("y", "z")

	assert.Equal(t, []string{"x", "y", "z"}, a.Union(b).IDs())
	assert.Equal(t, []string{"x"}, a.Difference(b).IDs())
	assert.Equal(t, []string{"y"}, a.Intersect(b).IDs())
	assert.Equal(t, []string{"x", "y"}, a.IDs(), "receiver untouched")
	assert.True(t, NewSet("y").SubsetOf(a))
	assert.True(t, a.Equal(NewSet("y", "x")))
}

func TestTracker_MarkGrantedOnlyTouchesOneID(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	require.True(t, tr.MarkGranted("a", model.StatusEligible))
	before := tr.Snapshot()

	require.True(t, tr.MarkGranted("b", model.StatusEligible))

	after := tr.Snapshot()
	assert.Equal(t, []string{"a"}, before.IDs(), "earlier snapshot is immutable")
	assert.Equal(t, []string{"a", "b"}, after.IDs())
}

func TestTracker_MarkGrantedRequiresEligible(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())

	assert.False(t, tr.MarkGranted("a", model.StatusConverted))
	assert.Equal(t, 0, tr.Snapshot().Len())
}

func TestTracker_ReconcileFull(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.MarkGranted("a", model.StatusEligible)
	tr.MarkGranted("b", model.StatusEligible)

	got := tr.Reconcile(model.Snapshot{Items: []model.Item{
		item("a", model.StatusEligible),
		item("b", model.StatusConverted),
		item("c", model.StatusEligible),
	}})

	assert.Equal(t, []string{"a"}, got.IDs(), "c is eligible but was never granted")
}

func TestTracker_ReconcileFullDropsAbsent(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.MarkGranted("a", model.StatusEligible)

	got := tr.Reconcile(model.Snapshot{Items: nil})
	assert.Equal(t, 0, got.Len())
}

func TestTracker_ReconcilePartialLeavesUnlisted(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.MarkGranted("z", model.StatusEligible)
	tr.MarkGranted("w", model.StatusEligible)

	got := tr.Reconcile(model.Snapshot{Partial: true, Items: []model.Item{item("w", model.StatusConverted)}})

	assert.Equal(t, []string{"z"}, got.IDs())
}

func TestReconciled_NeverGrows(t *testing.T) {
	statuses := []model.Status{
		model.StatusCollecting, model.StatusEligible, model.StatusConvertible,
		model.StatusConverted, model.StatusReclaimable,
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		var prior []string
		var items []model.Item
		for j := 0; j < 8; j++ {
			id := fmt.Sprintf("i%d", j)
			if rng.Intn(2) == 0 {
				prior = append(prior, id)
			}
			if rng.Intn(3) > 0 {
				items = append(items, item(id, statuses[rng.Intn(len(statuses))]))
			}
		}
		prev := NewSet(prior...)
		snap := model.Snapshot{Items: items, Partial: rng.Intn(2) == 0}

		next := Reconciled(prev, snap)

		require.True(t, next.SubsetOf(prev), "iteration %d grew the record", i)
		for _, it := range items {
			if next.Contains(it.ID) {
				assert.Equal(t, model.StatusEligible, it.Status, "A1 violated for %s", it.ID)
			}
		}
	}
}

func TestTracker_ConcurrentUpdatesAreNotLost(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.MarkGranted(fmt.Sprintf("item-%d", i), model.StatusEligible)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Snapshot().Len())
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker(nil, zerolog.Nop())
	tr.MarkGranted("a", model.StatusEligible)
	tr.MarkGranted("b", model.StatusEligible)

	tr.Clear("a")
	tr.Clear("missing")

	assert.Equal(t, []string{"b"}, tr.Snapshot().IDs())
}

func TestTracker_CoversThenGrant(t *testing.T) {
	params := model.ConversionParams{Token: "0xt", Spender: "0xs", Amount: "100"}

	t.Run("sufficient allowance grants", func(t *testing.T) {
		tr := NewTracker(stubAllowance{v: big.NewInt(100)}, zerolog.Nop())
		ok, err := tr.Covers(context.Background(), "a", "0xh", params)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, tr.MarkGranted("a", model.StatusEligible))
		assert.True(t, tr.Contains("a"))
	})

	t.Run("unknown allowance is not covered", func(t *testing.T) {
		tr := NewTracker(stubAllowance{err: ledger.ErrUnknown}, zerolog.Nop())
		ok, err := tr.Covers(context.Background(), "a", "0xh", params)
		assert.ErrorIs(t, err, ledger.ErrUnknown)
		assert.False(t, ok)
		assert.False(t, tr.Contains("a"))
	})

	t.Run("short allowance is not covered", func(t *testing.T) {
		tr := NewTracker(stubAllowance{v: big.NewInt(1)}, zerolog.Nop())
		ok, err := tr.Covers(context.Background(), "a", "0xh", params)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("params without a token are covered", func(t *testing.T) {
		tr := NewTracker(stubAllowance{err: ledger.ErrUnknown}, zerolog.Nop())
		ok, err := tr.Covers(context.Background(), "a", "0xh", model.ConversionParams{Amount: "100"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("status moved on", func(t *testing.T) {
		tr := NewTracker(stubAllowance{v: big.NewInt(100)}, zerolog.Nop())
		assert.False(t, tr.MarkGranted("a", model.StatusConverted))
		assert.False(t, tr.Contains("a"))
	})
}
