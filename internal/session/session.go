// Package session tracks the identity of the client session: the holder
// address and the chain the ledger is expected to be on.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collectord/internal/model"
)

// ChainReader reports the chain id of the ledger node.
type ChainReader interface {
	ChainID(ctx context.Context) (uint64, error)
}

// Session holds the holder and the expected chain.
type Session struct {
	Holder  string
	ChainID uint64

	reader ChainReader
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	observed  uint64
}

// New creates a session. A positive chain check is cached for ttl.
func New(holder string, chainID uint64, reader ChainReader, ttl time.Duration) *Session {
	return &Session{
		Holder:  holder,
		ChainID: chainID,
		reader:  reader,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Check verifies the ledger is on the expected chain. A mismatch returns
// model.ErrWrongChain; an unreadable chain id returns
// model.ErrVerificationUnavailable.
func (s *Session) Check(ctx context.Context) error {
	if s.reader == nil {
		return nil
	}
	s.mu.Lock()
	fresh := !s.checkedAt.IsZero() && s.now().Sub(s.checkedAt) < s.ttl
	s.mu.Unlock()
	if fresh {
		return nil
	}

	id, err := s.reader.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: chain id unknown: %v", model.ErrVerificationUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = id
	if id != s.ChainID {
		s.checkedAt = time.Time{}
		return fmt.Errorf("%w: expected %d, ledger reports %d", model.ErrWrongChain, s.ChainID, id)
	}
	s.checkedAt = s.now()
	return nil
}

// ObservedChainID returns the last chain id read from the ledger, 0 if none.
func (s *Session) ObservedChainID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed
}
