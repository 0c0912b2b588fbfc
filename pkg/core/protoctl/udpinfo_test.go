package protoctl

import (
	"testing"

	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/netutil"
)

// rendezvousFix is a directory where self relays for destination D: traffic
// to D goes through next hop P, and P is reachable over a live channel.
type rendezvousFix struct {
	*fix
	a, d, p graph.Handle
	spy     *spyLink
}

func newRendezvousFix(t *testing.T) *rendezvousFix {
	f := newFix(t, 0)
	r := &rendezvousFix{fix: f, spy: &spyLink{}}
	r.a = f.node("A")
	r.d = f.node("D")
	r.p = f.node("P")
	f.table.Get(r.a).Address = mustAddr(t, "192.0.2.10", "655")
	f.table.Get(r.d).Via = f.table.Self()
	f.table.Get(r.d).Nexthop = r.p
	f.table.Get(r.p).Conn = r.spy
	return r
}

func TestSendUDPInfoRelaysTowardNextHop(t *testing.T) {
	r := newRendezvousFix(t)
	if !r.ctl.SendUDPInfo(r.a, r.d) {
		t.Fatal("SendUDPInfo failed")
	}
	want := []string{"18 A D 192.0.2.10 655"}
	if len(r.spy.lines) != 1 || r.spy.lines[0] != want[0] {
		t.Fatalf("sent %q, want %q", r.spy.lines, want)
	}
}

func TestSendUDPInfoOriginUsesLocalAddress(t *testing.T) {
	// As the originator, the advertised address is the local endpoint of
	// the channel toward the next hop, not a stored node address.
	f := newFix(t, 0)
	d := f.node("D")
	rly := f.node("R")
	p := f.node("P")
	f.table.Get(d).Via = rly
	f.table.Get(rly).Nexthop = p
	spy := &spyLink{local: mustAddr(t, "198.51.100.7", "40000")}
	f.table.Get(p).Conn = spy

	if !f.ctl.SendUDPInfo(f.table.Self(), d) {
		t.Fatal("SendUDPInfo failed")
	}
	if len(spy.lines) != 1 || spy.lines[0] != "18 self D 198.51.100.7 40000" {
		t.Fatalf("sent %q", spy.lines)
	}
}

func TestSendUDPInfoNoOpGates(t *testing.T) {
	self := func(r *rendezvousFix) graph.Handle { return r.table.Self() }
	cases := []struct {
		name string
		prep func(*rendezvousFix)
		from func(*rendezvousFix) graph.Handle
	}{
		{"no route to destination", func(r *rendezvousFix) {
			r.table.Get(r.d).Nexthop = graph.None
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"destination relays via us alone", func(r *rendezvousFix) {
			r.table.Get(r.d).Nexthop = r.table.Self()
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"target unreachable", func(r *rendezvousFix) {
			r.table.Get(r.p).Reachable = false
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"originator already direct", func(r *rendezvousFix) {
			// nothing: P.Conn is live, so self->P needs no rendezvous
		}, self},
		{"self pinned to TCP", func(r *rendezvousFix) {
			s := r.table.Get(r.table.Self())
			s.Options |= graph.OptTCPOnly
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"origin pinned to TCP", func(r *rendezvousFix) {
			r.table.Get(r.a).Options |= graph.OptTCPOnly
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"target pinned to TCP", func(r *rendezvousFix) {
			r.table.Get(r.p).Options |= graph.OptTCPOnly
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"target unrouted", func(r *rendezvousFix) {
			r.table.Get(r.p).Nexthop = graph.None
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"next hop too old", func(r *rendezvousFix) {
			n := r.table.Get(r.p)
			n.Options = graph.Options(0).WithVersion(graph.MinUDPInfoVersion - 1)
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"no channel to next hop", func(r *rendezvousFix) {
			r.table.Get(r.p).Conn = nil
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
		{"origin address unknown", func(r *rendezvousFix) {
			r.table.Get(r.a).Address = netutil.SockAddr{}
		}, func(r *rendezvousFix) graph.Handle { return r.a }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRendezvousFix(t)
			tc.prep(r)
			if !r.ctl.SendUDPInfo(tc.from(r), r.d) {
				t.Fatal("a skipped rendezvous must report success")
			}
			if len(r.spy.lines) != 0 {
				t.Fatalf("sent %q, want nothing", r.spy.lines)
			}
		})
	}
}

func TestSendUDPInfoOriginLocalAddressUnknown(t *testing.T) {
	r := newRendezvousFix(t)
	// P.Conn reports no usable local address and self has a live channel
	// to nobody else, so make D reach through a third node to dodge the
	// direct-channel gate.
	rly := r.node("R")
	r.table.Get(r.d).Via = rly
	r.table.Get(rly).Nexthop = r.p
	mute := &spyLink{} // zero local address
	r.table.Get(r.p).Conn = mute
	if !r.ctl.SendUDPInfo(r.table.Self(), r.d) {
		t.Fatal("a skipped rendezvous must report success")
	}
	if len(mute.lines) != 0 {
		t.Fatalf("sent %q, want nothing", mute.lines)
	}
}

func TestUDPInfoMalformed(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	res := f.ctl.Handle(conn, "18 A B 1.2.3.4\n")
	if res.KeepOpen() || res.Fault() != FaultMalformed {
		t.Fatalf("result = %+v", res)
	}
}

func TestUDPInfoBadName(t *testing.T) {
	f := newFix(t, 0)
	conn := newTestConn("peer")
	for _, line := range []string{
		"18 bad-name B 1.2.3.4 655\n",
		"18 A b.d 1.2.3.4 655\n",
	} {
		res := f.ctl.Handle(conn, line)
		if res.KeepOpen() || res.Fault() != FaultBadIdentifier {
			t.Fatalf("Handle(%q) = %+v", line, res)
		}
	}
}

func TestUDPInfoUnknownNodesIgnored(t *testing.T) {
	f := newFix(t, 0)
	f.node("B")
	conn := newTestConn("peer")
	for _, line := range []string{
		"18 nobody B 1.2.3.4 655\n", // unknown origin
		"18 B nobody 1.2.3.4 655\n", // unknown destination
	} {
		res := f.ctl.Handle(conn, line)
		if !res.KeepOpen() {
			t.Fatalf("Handle(%q) = %+v", line, res)
		}
	}
}

func TestUDPInfoLearnsEndpointFirstUse(t *testing.T) {
	f := newFix(t, 0)
	b := f.node("B")
	conn := newTestConn("R")

	res := f.ctl.Handle(conn, "18 B B 203.0.113.5 51820\n")
	if !res.KeepOpen() {
		t.Fatalf("result = %+v", res)
	}
	want := mustAddr(t, "203.0.113.5", "51820")
	if got := f.table.Get(b).Address; !got.Equal(want) {
		t.Fatalf("learned address = %v, want %v", got, want)
	}
}

func TestUDPInfoDoesNotOverrideOwnView(t *testing.T) {
	cases := []struct {
		name string
		prep func(f *fix, b graph.Handle)
	}{
		{"confirmed endpoint", func(f *fix, b graph.Handle) {
			f.table.Get(b).UDPConfirmed = true
		}},
		{"direct channel", func(f *fix, b graph.Handle) {
			f.table.Get(b).Conn = &spyLink{}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFix(t, 0)
			b := f.node("B")
			orig := mustAddr(t, "192.0.2.99", "655")
			f.table.Get(b).Address = orig
			tc.prep(f, b)

			res := f.ctl.Handle(newTestConn("R"), "18 B B 203.0.113.5 51820\n")
			if !res.KeepOpen() {
				t.Fatalf("result = %+v", res)
			}
			if got := f.table.Get(b).Address; !got.Equal(orig) {
				t.Fatalf("address overwritten: %v", got)
			}
		})
	}
}

func TestUDPInfoUnparseableEndpointIgnored(t *testing.T) {
	f := newFix(t, 0)
	b := f.node("B")
	res := f.ctl.Handle(newTestConn("R"), "18 B B nothost badport\n")
	if !res.KeepOpen() {
		t.Fatalf("result = %+v", res)
	}
	if f.table.Get(b).Address.IsValid() {
		t.Fatal("garbage endpoint was stored")
	}
}

func TestUDPInfoRelayBypassDropped(t *testing.T) {
	f := newFix(t, 0)
	b := f.node("B")
	rly := f.node("R")
	f.table.Get(b).Via = rly // B sits behind a static relay

	res := f.ctl.Handle(newTestConn("peer"), "18 B B 203.0.113.5 51820\n")
	if !res.KeepOpen() {
		t.Fatalf("result = %+v", res)
	}
	if f.table.Get(b).Address.IsValid() {
		t.Fatal("address learned from a message that bypassed the relay")
	}
}

func TestUDPInfoRelaysLearnedEndpoint(t *testing.T) {
	// A relay in the middle: learn B's endpoint, then pass our own view up
	// the chain toward D's next hop.
	r := newRendezvousFix(t)
	r.node("B")

	res := r.ctl.Handle(newTestConn("R"), "18 B D 203.0.113.5 51820\n")
	if !res.KeepOpen() {
		t.Fatalf("result = %+v", res)
	}
	if len(r.spy.lines) != 1 || r.spy.lines[0] != "18 B D 203.0.113.5 51820" {
		t.Fatalf("relayed %q", r.spy.lines)
	}
}

func TestUDPInfoRelayFailureCloses(t *testing.T) {
	r := newRendezvousFix(t)
	r.node("B")
	r.spy.fail = true

	res := r.ctl.Handle(newTestConn("R"), "18 B D 203.0.113.5 51820\n")
	if res.KeepOpen() || res.Fault() != FaultTransmit {
		t.Fatalf("result = %+v", res)
	}
}
