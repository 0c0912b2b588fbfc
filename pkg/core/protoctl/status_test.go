package protoctl

import (
	"strings"
	"testing"

	"github.com/xgongx/tinc/pkg/proto"
)

func TestStatusRoundtrip(t *testing.T) {
	f := newFix(t, 0)
	sender := newTestConn("alice")
	if !f.ctl.SendStatus(sender, 4, "rekeyed") {
		t.Fatal("SendStatus failed")
	}
	lines := sentLines(sender)
	if len(lines) != 1 {
		t.Fatalf("queued %d lines", len(lines))
	}

	receiver := newTestConn("bob")
	res := f.ctl.Handle(receiver, lines[0]+"\n")
	if !res.KeepOpen() {
		t.Fatalf("status closed the channel: %+v", res)
	}
}

func TestStatusDefaultText(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("alice")
	f.ctl.SendStatus(conn, 1, "")
	lines := sentLines(conn)
	if len(lines) != 1 || lines[0] != proto.Encode(proto.OpStatus, 1, "Status") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestStatusTextTruncated(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("alice")
	f.ctl.SendStatus(conn, 1, strings.Repeat("z", proto.MaxStringLen+50))
	lines := sentLines(conn)
	req, err := proto.Decode(lines[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	text, _ := req.String(1)
	if len(text) != proto.MaxStringLen || strings.ContainsRune(text, ' ') {
		t.Fatalf("text len = %d", len(text))
	}
}

func TestStatusMalformedCloses(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	for _, line := range []string{"5\n", "5 notanint text\n", "5 2\n"} {
		res := f.ctl.Handle(conn, line)
		if res.KeepOpen() || res.Fault() != FaultMalformed {
			t.Fatalf("Handle(%q) = %+v", line, res)
		}
	}
}

func TestErrorAlwaysCloses(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")

	// Well-formed: still fatal, but tagged as peer-reported.
	res := f.ctl.Handle(conn, "6 12 overload\n")
	if res.KeepOpen() || res.Fault() != FaultPeerError {
		t.Fatalf("well-formed ERROR = %+v", res)
	}

	// Malformed: fatal as a parse failure.
	res = f.ctl.Handle(conn, "6 nope\n")
	if res.KeepOpen() || res.Fault() != FaultMalformed {
		t.Fatalf("malformed ERROR = %+v", res)
	}
}

func TestErrorDefaultText(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("alice")
	f.ctl.SendError(conn, 9, "")
	lines := sentLines(conn)
	if len(lines) != 1 || lines[0] != proto.Encode(proto.OpError, 9, "Error") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestTermReqClosesIntentionally(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	res := f.ctl.Handle(conn, "7\n")
	if res.KeepOpen() {
		t.Fatal("TERMREQ kept the channel open")
	}
	if res.Fault() != FaultNone {
		t.Fatalf("TERMREQ fault = %v, want FaultNone", res.Fault())
	}

	if !f.ctl.SendTermReq(conn) {
		t.Fatal("SendTermReq failed")
	}
	lines := sentLines(conn)
	if len(lines) != 1 || lines[0] != proto.Encode(proto.OpTermReq) {
		t.Fatalf("lines = %q", lines)
	}
}
