// Package vip serves the VIP table from configuration.
package vip

import (
	"context"
	"sync"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
)

// Static is an in-memory VIP table. Set replaces the table atomically, so
// a reload never shows a partial view.
type Static struct {
	mu    sync.RWMutex
	ranks map[domain.UserID]domain.VipRank
}

func NewStatic(ranks ...domain.VipRank) *Static {
	s := &Static{}
	s.Set(ranks)
	return s
}

var _ core.VipLookup = (*Static)(nil)

func (s *Static) Get(_ context.Context, user domain.UserID) (domain.VipRank, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ranks[user]
	if !ok {
		return domain.NoVip(user), false, nil
	}
	return r, true, nil
}

func (s *Static) Set(ranks []domain.VipRank) {
	m := make(map[domain.UserID]domain.VipRank, len(ranks))
	for _, r := range ranks {
		m[r.UserID] = r
	}
	s.mu.Lock()
	s.ranks = m
	s.mu.Unlock()
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ranks)
}

// Chain asks each lookup in turn and returns the first hit. Errors are
// returned only when no lookup had the user.
type Chain []core.VipLookup

func (c Chain) Get(ctx context.Context, user domain.UserID) (domain.VipRank, bool, error) {
	var firstErr error
	for _, l := range c {
		r, ok, err := l.Get(ctx, user)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return r, true, nil
		}
	}
	return domain.NoVip(user), false, firstErr
}
