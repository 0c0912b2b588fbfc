package protoctl

import (
	"testing"
	"time"

	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

func TestSendPingArmsProbe(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	if !f.ctl.SendPing(conn) {
		t.Fatal("SendPing failed")
	}
	if !conn.Pinged {
		t.Fatal("pending-ping flag not set")
	}
	if !conn.LastPing.Equal(f.now) {
		t.Fatalf("LastPing = %v, want %v", conn.LastPing, f.now)
	}
	lines := sentLines(conn)
	if len(lines) != 1 || lines[0] != proto.Encode(proto.OpPing) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestPingRepliesPong(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	res := f.ctl.Handle(conn, "8\n")
	if !res.KeepOpen() {
		t.Fatalf("ping closed the channel: %+v", res)
	}
	lines := sentLines(conn)
	if len(lines) != 1 || lines[0] != proto.Encode(proto.OpPong) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestPongDisarmsAndResetsOutgoing(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	conn.Outgoing = &meta.Outgoing{
		Address: "peer.example:655",
		Timeout: 40 * time.Second,
		Token:   "cached-config",
		Cursor:  meta.CursorFromAddrs([]string{"192.0.2.10:655", "192.0.2.11:655"}),
	}

	if !f.ctl.SendPing(conn) {
		t.Fatal("SendPing failed")
	}
	res := f.ctl.Handle(conn, "9\n")
	if !res.KeepOpen() {
		t.Fatalf("pong closed the channel: %+v", res)
	}
	if conn.Pinged {
		t.Fatal("pending-ping flag still set")
	}
	out := conn.Outgoing
	if out.Timeout != 0 {
		t.Fatalf("retry timeout = %v, want 0", out.Timeout)
	}
	if out.Token != "" {
		t.Fatalf("config token = %q, want empty", out.Token)
	}
	if out.Cursor != nil {
		t.Fatal("address cursor not released")
	}
}

func TestPongOnIncomingConnection(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer") // no Outgoing: remote initiated
	f.ctl.SendPing(conn)
	res := f.ctl.Handle(conn, "9\n")
	if !res.KeepOpen() || conn.Pinged {
		t.Fatalf("res = %+v pinged = %v", res, conn.Pinged)
	}
}
