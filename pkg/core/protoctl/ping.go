package protoctl

import (
	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

// SendPing arms the pending-ping flag, records when the probe left, and
// transmits it. The ping scheduler tears the channel down if no pong arrives
// within the configured timeout.
func (c *Controller) SendPing(conn *meta.Conn) bool {
	c.table.Lock()
	defer c.table.Unlock()
	return c.sendPing(conn)
}

// SendPingLocked is SendPing for callers already holding the table lock.
func (c *Controller) SendPingLocked(conn *meta.Conn) bool {
	return c.sendPing(conn)
}

func (c *Controller) sendPing(conn *meta.Conn) bool {
	conn.Pinged = true
	conn.LastPing = c.now()
	return conn.SendRequest(proto.Encode(proto.OpPing)) == nil
}

func (c *Controller) ping(conn *meta.Conn, _ *proto.Request) Result {
	if !c.SendPong(conn) {
		return Close(FaultTransmit)
	}
	return Continue()
}

// SendPong answers a liveness probe.
func (c *Controller) SendPong(conn *meta.Conn) bool {
	return conn.SendRequest(proto.Encode(proto.OpPong)) == nil
}

// pong disarms the pending ping. A pong is proof of liveness, so on an
// outgoing channel it also cancels the reconnect backoff accumulated from
// earlier failed attempts.
func (c *Controller) pong(conn *meta.Conn, _ *proto.Request) Result {
	conn.Pinged = false
	if conn.Outgoing != nil {
		conn.Outgoing.Reset()
	}
	return Continue()
}
