package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"collectord/internal/model"
)

// sqlJournal is the JournalRepository shared by the SQL drivers; both speak
// "?" placeholders. created_at is stored as unix microseconds so the two
// dialects scan the same way.
type sqlJournal struct {
	db   *sql.DB
	name string
	// writeMu serializes writers where the driver allows only one.
	writeMu *sync.Mutex
}

var _ JournalRepository = (*sqlJournal)(nil)

const journalColumns = `id, action_id, item_id, kind, phase, event, reason, handle, created_at`

func (j *sqlJournal) Record(ctx context.Context, ev model.ActionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if j.writeMu != nil {
		j.writeMu.Lock()
		defer j.writeMu.Unlock()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO action_events (action_id, item_id, kind, phase, event, reason, handle, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ActionID, ev.ItemID, string(ev.Kind), string(ev.Phase), ev.Event, ev.Reason, ev.Handle, ev.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("%s journal insert: %w", j.name, err)
	}
	return nil
}

func (j *sqlJournal) List(ctx context.Context, f JournalFilter) ([]model.ActionEvent, int64, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var (
		conds []string
		args  []any
	)
	if f.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.ActionID != "" {
		conds = append(conds, "action_id = ?")
		args = append(args, f.ActionID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s journal count: %w", j.name, err)
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT "+journalColumns+" FROM action_events"+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s journal list: %w", j.name, err)
	}
	defer rows.Close()

	events := []model.ActionEvent{}
	for rows.Next() {
		var (
			ev          model.ActionEvent
			kind, phase string
			created     int64
		)
		if err := rows.Scan(&ev.ID, &ev.ActionID, &ev.ItemID, &kind, &phase, &ev.Event, &ev.Reason, &ev.Handle, &created); err != nil {
			return nil, 0, fmt.Errorf("%s journal scan: %w", j.name, err)
		}
		ev.Kind = model.ActionKind(kind)
		ev.Phase = model.Phase(phase)
		ev.CreatedAt = time.UnixMicro(created).UTC()
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

func (j *sqlJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j.writeMu != nil {
		j.writeMu.Lock()
		defer j.writeMu.Unlock()
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM action_events WHERE created_at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("%s journal prune: %w", j.name, err)
	}
	return res.RowsAffected()
}

func (j *sqlJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *sqlJournal) Close() error {
	return j.db.Close()
}
