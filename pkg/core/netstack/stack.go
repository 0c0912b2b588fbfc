// Package netstack runs the connection machinery of the daemon: listeners,
// outgoing dial loops with backoff, the per-connection session lifecycle,
// and the liveness pinger. It binds the meta-channel framing to the protocol
// engine and keeps the node directory in sync with live connections.
package netstack

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/admin"
	"github.com/xgongx/tinc/pkg/config"
	"github.com/xgongx/tinc/pkg/core/protoctl"
	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/meta"
)

// Stack owns the network side of one daemon instance.
type Stack struct {
	cfg   *config.Config
	table *graph.Table
	ctl   *protoctl.Controller

	mu    sync.Mutex
	conns map[*meta.Conn]graph.Handle // live sessions; None until identified

	wg        sync.WaitGroup
	listeners []net.Listener
}

// New wires a stack over the given directory and protocol engine.
func New(cfg *config.Config, table *graph.Table, ctl *protoctl.Controller) *Stack {
	return &Stack{
		cfg:   cfg,
		table: table,
		ctl:   ctl,
		conns: make(map[*meta.Conn]graph.Handle),
	}
}

// Start opens the configured listeners and launches the dial loops and the
// pinger. It returns once everything is running; Wait blocks until ctx is
// canceled and all goroutines have drained.
func (s *Stack) Start(ctx context.Context) error {
	for _, addr := range s.cfg.Net.Listen {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		zap.L().Info("listening", zap.String("addr", ln.Addr().String()))
		s.listeners = append(s.listeners, ln)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ctx, ln)
		}()
	}

	for _, peer := range s.cfg.Net.ConnectTo {
		peer := peer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dialLoop(ctx, peer)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pinger(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.closeListeners()
		s.closeConns()
	}()
	return nil
}

// Wait blocks until every stack goroutine has finished.
func (s *Stack) Wait() { s.wg.Wait() }

func (s *Stack) closeListeners() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

func (s *Stack) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *Stack) track(c *meta.Conn) {
	s.mu.Lock()
	s.conns[c] = graph.None
	s.mu.Unlock()
}

func (s *Stack) identify(c *meta.Conn, h graph.Handle) {
	s.mu.Lock()
	s.conns[c] = h
	s.mu.Unlock()
}

func (s *Stack) untrack(c *meta.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

var _ admin.StateSource = (*Stack)(nil)

// DumpNodes snapshots the node directory for the admin endpoint.
func (s *Stack) DumpNodes() []admin.NodeDump {
	s.table.Lock()
	defer s.table.Unlock()
	out := make([]admin.NodeDump, 0, s.table.Len())
	for _, h := range s.table.Handles() {
		n := s.table.Get(h)
		d := admin.NodeDump{
			Name:         n.Name,
			Version:      n.Options.Version(),
			Reachable:    n.Reachable,
			UDPConfirmed: n.UDPConfirmed,
			Direct:       n.Conn != nil,
		}
		if n.Address.IsValid() {
			d.Address = n.Address.String()
		}
		if n.Via != graph.None {
			d.Via = s.table.Get(n.Via).Name
		}
		if n.Nexthop != graph.None {
			d.Nexthop = s.table.Get(n.Nexthop).Name
		}
		out = append(out, d)
	}
	return out
}

// DumpConnections snapshots the live sessions for the admin endpoint.
func (s *Stack) DumpConnections() []admin.ConnDump {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]admin.ConnDump, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, admin.ConnDump{
			Name:     c.Name,
			Hostname: c.Hostname,
			Outgoing: c.Outgoing != nil,
			Pinged:   c.Pinged,
			QueueLen: c.QueueLen(),
		})
	}
	return out
}
