package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 2, p.err
}

func (p *fakePruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestCleanup_RunNowUsesRetention(t *testing.T) {
	p := &fakePruner{}
	s := NewCleanupScheduler(p, CleanupConfig{Retention: time.Hour}, zerolog.Nop())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunNow()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []time.Time{now.Add(-time.Hour)}, p.cutoffs)
}

func TestCleanup_Defaults(t *testing.T) {
	s := NewCleanupScheduler(&fakePruner{}, CleanupConfig{}, zerolog.Nop())
	assert.Equal(t, 30*24*time.Hour, s.config.Retention)
	assert.Equal(t, time.Hour, s.config.Interval)
}

func TestCleanup_RunsPeriodicallyUntilStopped(t *testing.T) {
	p := &fakePruner{err: errors.New("db down")}
	s := NewCleanupScheduler(p, CleanupConfig{Interval: 5 * time.Millisecond}, zerolog.Nop())
	s.Start()
	s.Start()

	require.Eventually(t, func() bool { return p.calls() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	after := p.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, p.calls())
}
