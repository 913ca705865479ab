package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"collectord/internal/model"
)

// ApplySnapshot merges snap into the item table, reconciles the authorization
// record against the merged statuses and flags reconciling actions whose item
// reached the expected status. Push messages, poll results and the startup
// cache all go through here, so whichever copy of a status arrives first wins
// and the later one is a no-op.
//
// A full snapshot names every item the holder owns; items it omits are kept
// and flagged not owned. A partial snapshot only touches items already known.
func (c *Coordinator) ApplySnapshot(snap model.Snapshot) {
	if snap.Holder != "" && !strings.EqualFold(snap.Holder, c.cfg.Holder) {
		c.log.Debug().Str("holder", snap.Holder).Msg("ignoring snapshot of another holder")
		return
	}

	c.mu.Lock()
	merged := c.mergeLocked(snap)
	before := c.deps.Tracker.Snapshot()
	after := c.deps.Tracker.Reconcile(merged)
	for _, it := range merged.Items {
		st := c.items[it.ID]
		p := st.pending
		if p != nil && p.action.Phase == model.PhaseReconciling && st.item.Status == p.action.Kind.ExpectedStatus() {
			p.markConverged()
		}
	}
	c.mu.Unlock()

	if dropped := before.Difference(after); dropped.Len() > 0 {
		c.log.Info().Strs("items", dropped.IDs()).Str("source", snap.Source).Msg("authorizations dropped by snapshot")
	}
	if !snap.Partial && snap.Source != model.SourceCache {
		c.saveSnapshot(merged)
	}
}

// mergeLocked folds snap into the table and returns the merged view of the
// items it touched.
func (c *Coordinator) mergeLocked(snap model.Snapshot) model.Snapshot {
	out := model.Snapshot{
		Holder:  c.cfg.Holder,
		Partial: snap.Partial,
		Source:  snap.Source,
		TakenAt: snap.TakenAt,
		Items:   make([]model.Item, 0, len(snap.Items)),
	}
	seen := make(map[string]struct{}, len(snap.Items))

	for _, in := range snap.Items {
		if err := validItem(in, snap.Partial); err != nil {
			c.log.Warn().Err(err).Str("source", snap.Source).Msg("dropping malformed item")
			continue
		}
		st, known := c.items[in.ID]
		if !known {
			if snap.Partial {
				continue
			}
			st = &itemState{}
			c.items[in.ID] = st
		}
		seen[in.ID] = struct{}{}

		if known && in.UpdatedAt.Before(st.item.UpdatedAt) && !in.UpdatedAt.IsZero() {
			// Older than what we hold.
			out.Items = append(out.Items, st.item)
			continue
		}
		if snap.Partial {
			next := st.item
			next.Status = in.Status
			if in.LedgerRef != "" {
				next.LedgerRef = in.LedgerRef
			}
			if !in.UpdatedAt.IsZero() {
				next.UpdatedAt = in.UpdatedAt
			}
			st.item = next
		} else {
			in.Owned = true
			st.item = in
		}
		out.Items = append(out.Items, st.item)
	}

	if !snap.Partial {
		for id, st := range c.items {
			if _, ok := seen[id]; !ok {
				st.item.Owned = false
			}
		}
	}
	return out
}

func validItem(it model.Item, partial bool) error {
	if it.ID == "" {
		return fmt.Errorf("item without id")
	}
	if !it.Status.Valid() {
		return fmt.Errorf("item %s: unknown status %q", it.ID, it.Status)
	}
	if partial {
		return nil
	}
	if it.CollectedUnits < 0 || it.TotalUnits < 0 || it.CollectedUnits > it.TotalUnits {
		return fmt.Errorf("item %s: collected %d of %d", it.ID, it.CollectedUnits, it.TotalUnits)
	}
	return nil
}

// HandleEnvelope applies a push message. items_update carries a full snapshot
// of one holder; recent_conversions is a partial broadcast. Other types are
// dropped.
func (c *Coordinator) HandleEnvelope(env model.Envelope) {
	switch env.Type {
	case model.EnvelopeItemsUpdate:
		var u model.ItemsUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			c.log.Warn().Err(err).Str("type", env.Type).Msg("malformed push payload")
			return
		}
		c.ApplySnapshot(model.Snapshot{
			Holder:  u.Holder,
			Items:   u.Items,
			Source:  model.SourcePush,
			TakenAt: c.now(),
		})

	case model.EnvelopeRecentConversions:
		var rc model.RecentConversions
		if err := json.Unmarshal(env.Data, &rc); err != nil {
			c.log.Warn().Err(err).Str("type", env.Type).Msg("malformed push payload")
			return
		}
		items := make([]model.Item, 0, len(rc.Items))
		for _, ci := range rc.Items {
			items = append(items, model.Item{
				ID:        ci.ID,
				Status:    model.StatusConverted,
				LedgerRef: ci.LedgerRef,
				UpdatedAt: ci.At,
			})
		}
		c.ApplySnapshot(model.Snapshot{
			Items:   items,
			Partial: true,
			Source:  model.SourcePush,
			TakenAt: c.now(),
		})

	default:
		c.log.Debug().Str("type", env.Type).Msg("dropping unrecognized push message")
	}
}

// Refresh fetches the authoritative item list and applies it.
func (c *Coordinator) Refresh(ctx context.Context) error {
	items, err := c.deps.Backend.Items(ctx, c.cfg.Holder)
	if err != nil {
		return fmt.Errorf("refresh items: %w", err)
	}
	c.ApplySnapshot(model.Snapshot{
		Holder:  c.cfg.Holder,
		Items:   items,
		Source:  model.SourcePoll,
		TakenAt: c.now(),
	})
	return nil
}

// Restore loads the last cached snapshot as last-known state. The
// authorization record is not restored; it only grows from confirmed actions.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.deps.Snapshots == nil {
		return nil
	}
	snap, ok, err := c.deps.Snapshots.LoadSnapshot(ctx, c.cfg.Holder)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	snap.Partial = false
	snap.Source = model.SourceCache
	c.ApplySnapshot(snap)
	c.log.Info().Int("items", len(snap.Items)).Time("taken_at", snap.TakenAt).Msg("restored cached snapshot")
	return nil
}

func (c *Coordinator) saveSnapshot(snap model.Snapshot) {
	if c.deps.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IOTimeout)
	defer cancel()
	if err := c.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		c.log.Warn().Err(err).Msg("snapshot cache write failed")
	}
}
