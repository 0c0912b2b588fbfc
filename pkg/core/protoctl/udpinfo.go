package protoctl

import (
	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/netutil"
	"github.com/xgongx/tinc/pkg/proto"
)

// SendUDPInfo advertises from's UDP endpoint toward to, one relay hop at a
// time. It returns true both when the message was queued and when one of the
// eligibility gates decided no rendezvous message is needed; only a transmit
// failure reports false.
func (c *Controller) SendUDPInfo(from, to graph.Handle) bool {
	c.table.Lock()
	defer c.table.Unlock()
	return c.sendUDPInfo(from, to)
}

func (c *Controller) sendUDPInfo(from, to graph.Handle) bool {
	t := c.table
	self := t.Self()
	toN := t.Get(to)

	// With a static relay in the path there is no point in carrying the
	// message past the relay. When we are that relay, skip the redundant
	// hop and address the destination's own next hop directly.
	target := toN.Via
	if toN.Via == self {
		target = toN.Nexthop
	}
	if target == graph.None || target == self {
		return true
	}
	tn := t.Get(target)
	if !tn.Reachable {
		return true
	}
	if from == self && tn.Conn != nil {
		// Already a direct channel; no rendezvous needed.
		return true
	}
	fromN := t.Get(from)
	if (t.Get(self).Options|fromN.Options|tn.Options)&graph.OptTCPOnly != 0 {
		return true
	}
	if tn.Nexthop == graph.None {
		return true
	}
	nh := t.Get(tn.Nexthop)
	if nh.Options.Version() < graph.MinUDPInfoVersion {
		return true
	}
	if nh.Conn == nil {
		zap.L().Warn("no channel to next hop for rendezvous",
			zap.String("nexthop", nh.Name), zap.String("to", toN.Name))
		return true
	}

	// As the originator our advertised address is irrelevant: the first
	// relay hop ignores it. The local endpoint of the link is well-formed
	// and spares the wire an encoding for "no address".
	var addr netutil.SockAddr
	if from == self {
		la, ok := nh.Conn.LocalSockAddr()
		if !ok {
			return true
		}
		addr = la
	} else {
		if !fromN.Address.IsValid() {
			return true
		}
		addr = fromN.Address
	}
	host, port := addr.HostPort()
	line := proto.Encode(proto.OpUDPInfo, fromN.Name, toN.Name, host, port)
	return nh.Conn.SendRequest(line) == nil
}

// udpInfo handles a rendezvous advertisement: conditionally learns the
// origin's UDP endpoint, then relays the message onward, re-evaluating every
// eligibility gate for this hop.
func (c *Controller) udpInfo(conn *meta.Conn, req *proto.Request) Result {
	fromName, ok1 := req.String(0)
	toName, ok2 := req.String(1)
	host, ok3 := req.String(2)
	port, ok4 := req.String(3)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		logBad(proto.OpUDPInfo, conn)
		return Close(FaultMalformed)
	}
	if !proto.CheckID(fromName) || !proto.CheckID(toName) {
		zap.L().Error("got bad request",
			zap.Stringer("type", proto.OpUDPInfo),
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname),
			zap.String("reason", "invalid name"))
		return Close(FaultBadIdentifier)
	}

	t := c.table
	from, ok := t.Lookup(fromName)
	if !ok {
		zap.L().Error("rendezvous origin unknown",
			zap.String("origin", fromName),
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname))
		return Continue()
	}
	fromN := t.Get(from)
	if fromN.Via != from {
		// The origin is itself behind a static relay, so this message
		// wandered past a relay it should not have. Observe, drop, keep
		// the channel.
		zap.L().Warn("rendezvous message bypassed a static relay",
			zap.String("origin", fromN.Name), zap.String("peer", conn.Name))
		return Continue()
	}

	// With a direct channel to the origin, or a confirmed endpoint, our
	// own view beats a third party's claim. Otherwise learn the address
	// on first use.
	if fromN.Conn == nil && !fromN.UDPConfirmed {
		sa, err := netutil.ParseSockAddr(host, port)
		if err != nil {
			zap.L().Debug("unparseable advertised endpoint",
				zap.String("origin", fromN.Name),
				zap.String("addr", host+" "+port), zap.Error(err))
		} else if !sa.Equal(fromN.Address) {
			fromN.Address = sa
			zap.L().Info("learned UDP endpoint",
				zap.String("node", fromN.Name), zap.Stringer("addr", sa))
		}
	}

	to, ok := t.Lookup(toName)
	if !ok {
		zap.L().Error("rendezvous destination unknown",
			zap.String("destination", toName),
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname))
		return Continue()
	}

	// Relay our own view (possibly what we just learned) up the chain.
	if !c.sendUDPInfo(from, to) {
		return Close(FaultTransmit)
	}
	return Continue()
}
