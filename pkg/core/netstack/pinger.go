package netstack

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/meta"
)

// pinger probes every identified session on the configured interval and
// tears down sessions whose previous probe went unanswered past the timeout.
func (s *Stack) pinger(ctx context.Context) {
	tick := time.NewTicker(s.cfg.Control.PingTimeout)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			s.probe(now)
		}
	}
}

func (s *Stack) probe(now time.Time) {
	s.mu.Lock()
	conns := make(map[*meta.Conn]graph.Handle, len(s.conns))
	for c, h := range s.conns {
		conns[c] = h
	}
	s.mu.Unlock()

	s.table.Lock()
	var stale []*meta.Conn
	for c, h := range conns {
		if h == graph.None {
			continue
		}
		switch {
		case c.Pinged && now.Sub(c.LastPing) > s.cfg.Control.PingTimeout:
			zap.L().Warn("peer did not answer probe",
				zap.String("peer", c.Name),
				zap.Duration("timeout", s.cfg.Control.PingTimeout))
			stale = append(stale, c)
		case !c.Pinged && now.Sub(c.LastPing) >= s.cfg.Control.PingInterval:
			if !s.ctl.SendPingLocked(c) {
				stale = append(stale, c)
			}
		}
	}
	s.table.Unlock()

	// Closing the transport unblocks the session's read loop, which does
	// the directory teardown itself.
	for _, c := range stale {
		c.Close()
	}
}
