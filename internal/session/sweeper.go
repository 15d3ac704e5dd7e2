// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
)

// Sweeper evicts sessions that stopped heartbeating and forgets canceled
// sessions after their retention.
type Sweeper struct {
	Manager  *Manager
	Interval time.Duration
}

// Run calls SweepOnce on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", s.Interval).Str("event", "session.sweeper_started").Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs one pass and returns the number of evicted and forgotten sessions.
func (s *Sweeper) SweepOnce() (evicted, forgotten int) {
	m := s.Manager
	now := m.now()

	var toRemove []string
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.status.IsTerminal() {
			if now.Sub(e.endedAt) >= m.conf.Retention {
				delete(m.sessions, id)
				transition(e.status, "")
				toRemove = append(toRemove, id)
				forgotten++
			}
			continue
		}
		if now.Sub(e.lastHeartbeat) > m.conf.IdleTimeout {
			m.cancelLocked(e, ReasonIdleTimeout)
			evicted++
		}
	}
	m.mu.Unlock()

	for _, id := range toRemove {
		m.removeOutput(id)
	}
	if evicted > 0 || forgotten > 0 {
		m.logger.Info().
			Int("evicted", evicted).
			Int("forgotten", forgotten).
			Str("event", "session.sweep").
			Msg("session sweep")
	}
	return evicted, forgotten
}
