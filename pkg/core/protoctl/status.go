package protoctl

import (
	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

// SendStatus emits an informational status notification. An empty text falls
// back to "Status".
func (c *Controller) SendStatus(conn *meta.Conn, code int, text string) bool {
	if text == "" {
		text = "Status"
	}
	return conn.SendRequest(proto.Encode(proto.OpStatus, code, text)) == nil
}

func (c *Controller) status(conn *meta.Conn, req *proto.Request) Result {
	code, ok1 := req.Int(0)
	text, ok2 := req.String(1)
	if !ok1 || !ok2 {
		logBad(proto.OpStatus, conn)
		return Close(FaultMalformed)
	}
	zap.L().Info("status from peer",
		zap.String("peer", conn.Name), zap.String("host", conn.Hostname),
		zap.Int("code", code), zap.String("text", text))
	return Continue()
}

// SendError emits an error notification. An empty text falls back to
// "Error". The remote side will close the channel after logging it.
func (c *Controller) SendError(conn *meta.Conn, code int, text string) bool {
	if text == "" {
		text = "Error"
	}
	return conn.SendRequest(proto.Encode(proto.OpError, code, text)) == nil
}

// errorh handles an ERROR notification. Receiving one is itself grounds to
// tear down the channel, however well-formed it is.
func (c *Controller) errorh(conn *meta.Conn, req *proto.Request) Result {
	code, ok1 := req.Int(0)
	text, ok2 := req.String(1)
	if !ok1 || !ok2 {
		logBad(proto.OpError, conn)
		return Close(FaultMalformed)
	}
	zap.L().Info("error from peer",
		zap.String("peer", conn.Name), zap.String("host", conn.Hostname),
		zap.Int("code", code), zap.String("text", text))
	return Close(FaultPeerError)
}

// SendTermReq asks the peer to close the channel.
func (c *Controller) SendTermReq(conn *meta.Conn) bool {
	return conn.SendRequest(proto.Encode(proto.OpTermReq)) == nil
}

func (c *Controller) termReq(conn *meta.Conn, _ *proto.Request) Result {
	zap.L().Debug("termination requested",
		zap.String("peer", conn.Name), zap.String("host", conn.Hostname))
	return Close(FaultNone)
}
