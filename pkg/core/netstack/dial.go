package netstack

import (
	"context"
	"math/rand/v2"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/config"
	"github.com/xgongx/tinc/pkg/meta"
)

const dialTimeout = 30 * time.Second

// dialLoop keeps one outgoing meta-channel to a configured peer alive:
// resolve, walk the address candidates, connect, run the session, back off,
// repeat. A confirmed pong resets the backoff through Outgoing.Reset, so a
// peer that was provably up restarts from a short retry.
func (s *Stack) dialLoop(ctx context.Context, peer config.ConnectConfig) {
	out := &meta.Outgoing{Address: peer.Address}
	for ctx.Err() == nil {
		addr, ok := out.Cursor.Next()
		if !ok {
			cur, err := meta.ResolveAddrCursor(peer.Address)
			if err != nil {
				zap.L().Warn("resolve failed",
					zap.String("peer", peer.Name),
					zap.String("addr", peer.Address), zap.Error(err))
				s.backoff(ctx, out)
				continue
			}
			out.Cursor = cur
			continue
		}

		d := net.Dialer{Timeout: dialTimeout}
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			zap.L().Info("dial failed",
				zap.String("peer", peer.Name), zap.String("addr", addr),
				zap.Error(err))
			s.backoff(ctx, out)
			continue
		}

		zap.L().Info("connected",
			zap.String("peer", peer.Name), zap.String("addr", addr))
		s.runConn(nc, out, peer.Name)

		// The session consumed or reset the cursor state as it saw fit;
		// back off before the next attempt unless a pong cleared it.
		s.backoff(ctx, out)
	}
}

// backoff sleeps for the current retry timeout with jitter, then doubles it
// up to the configured ceiling.
func (s *Stack) backoff(ctx context.Context, out *meta.Outgoing) {
	initial := time.Duration(s.cfg.Net.DialBackoffInitialMS) * time.Millisecond
	max := time.Duration(s.cfg.Net.DialBackoffMaxMS) * time.Millisecond
	jitter := time.Duration(s.cfg.Net.DialBackoffJitterMS) * time.Millisecond

	if out.Timeout <= 0 {
		out.Timeout = initial
	}
	d := out.Timeout
	if jitter > 0 {
		d += rand.N(jitter)
	}
	out.Timeout *= 2
	if out.Timeout > max {
		out.Timeout = max
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
