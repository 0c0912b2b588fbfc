package netstack

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/core/protoctl"
	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

// runConn drives one meta-channel from attachment to teardown. wantName is
// the expected peer on outgoing connections, empty for inbound ones. The
// call blocks until the channel dies.
func (s *Stack) runConn(nc net.Conn, out *meta.Outgoing, wantName string) {
	conn := meta.NewConn("", s.cfg.Control.MaxOutputBuffer)
	conn.Attach(nc)
	conn.Outgoing = out
	conn.SetRateLimit(s.cfg.Control.RateLimit)
	s.track(conn)
	defer s.untrack(conn)

	go conn.WriteLoop()
	defer conn.Close()

	// Announce ourselves first; both sides speak eagerly.
	self := s.selfID()
	if err := conn.SendRequest(self); err != nil {
		return
	}

	identified := false
	err := conn.ReadLoop(
		func(line string) bool {
			if !identified {
				if err := s.handleID(conn, line, wantName); err != nil {
					zap.L().Error("identifier exchange failed",
						zap.String("host", conn.Hostname), zap.Error(err))
					return false
				}
				identified = true
				return true
			}
			res := s.ctl.Handle(conn, line)
			if !res.KeepOpen() {
				if f := res.Fault(); f != protoctl.FaultNone {
					zap.L().Info("closing connection",
						zap.String("peer", conn.Name), zap.Stringer("fault", f))
				}
				return false
			}
			return true
		},
		func(payload []byte) {
			// No local tunnel device is attached; fallback payloads
			// terminate here.
			zap.L().Debug("fallback payload received",
				zap.String("peer", conn.Name), zap.Int("len", len(payload)))
		},
	)
	if err != nil {
		zap.L().Info("connection lost",
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname),
			zap.Error(err))
	}

	s.detach(conn)
}

// selfID renders our identifier announcement.
func (s *Stack) selfID() string {
	return proto.Encode(proto.OpID, s.cfg.Name, int(s.cfg.Options()))
}

// handleID consumes the peer's identifier announcement and activates the
// session: the peer is registered in the directory, the edge is added, and
// routes are recomputed.
func (s *Stack) handleID(conn *meta.Conn, line string, wantName string) error {
	req, err := proto.Decode(line)
	if err != nil {
		return err
	}
	if req.Op != proto.OpID {
		return fmt.Errorf("expected identifier, got %s", req.Op)
	}
	name, ok1 := req.String(0)
	opts, ok2 := req.Int(1)
	if !ok1 || !ok2 {
		return fmt.Errorf("malformed identifier %q", line)
	}
	if !proto.CheckID(name) {
		return fmt.Errorf("invalid peer name %q", name)
	}
	if wantName != "" && name != wantName {
		return fmt.Errorf("peer identifies as %q, expected %q", name, wantName)
	}

	t := s.table
	t.Lock()
	defer t.Unlock()
	if name == t.Get(t.Self()).Name {
		return fmt.Errorf("peer uses our own name %q", name)
	}
	h := t.Register(name)
	n := t.Get(h)
	if n.Conn != nil {
		return fmt.Errorf("second connection from %q", name)
	}
	n.Options = graph.Options(uint32(opts))
	n.Conn = conn
	conn.Name = name
	indirect := (n.Options|t.Get(t.Self()).Options)&graph.OptIndirect != 0
	t.Connect(t.Self(), h, indirect)
	t.Recompute()
	s.identify(conn, h)

	zap.L().Info("connection established",
		zap.String("peer", name), zap.String("host", conn.Hostname),
		zap.Int("version", n.Options.Version()))
	return nil
}

// detach reverses handleID's directory changes after the channel dies.
func (s *Stack) detach(conn *meta.Conn) {
	t := s.table
	t.Lock()
	defer t.Unlock()
	if conn.Name == "" {
		return
	}
	h, ok := t.Lookup(conn.Name)
	if !ok || t.Get(h).Conn != conn {
		return
	}
	t.Get(h).Conn = nil
	t.Disconnect(t.Self(), h)
	t.Recompute()
	zap.L().Info("connection closed", zap.String("peer", conn.Name))
}
