package protoctl

import (
	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

// SendTCPPacket relays one data packet over the meta-channel when the
// encrypted UDP path is unavailable. Under buffer pressure it applies random
// early drop: with occupancy fraction x, the drop probability is
// clamp(2x-1, 0, 1), so nothing is dropped below half occupancy and
// everything is dropped at full occupancy. A dropped packet reports success;
// the fallback path is deliberately lossy and callers must not tell the
// difference.
func (c *Controller) SendTCPPacket(conn *meta.Conn, packet []byte) bool {
	if len(packet) > proto.MaxPacketLen {
		zap.L().Error("fallback packet too large",
			zap.String("peer", conn.Name), zap.Int("len", len(packet)))
		return false
	}

	threshold := 0.0
	if c.maxOutBuf > 0 {
		threshold = 2*float64(conn.QueueLen())/float64(c.maxOutBuf) - 1
	}
	if threshold > 1 {
		threshold = 1
	}
	if threshold > 0 && c.rand() < threshold {
		return true
	}

	header := proto.Encode(proto.OpPacket, int16(len(packet)))
	return conn.SendPacket(header, packet) == nil
}

// tcpPacket parses a fallback packet header. The declared length becomes the
// connection's pending trailing payload length: the framing layer reads that
// many raw bytes as packet body before resuming line parsing. The body is
// not consumed here.
func (c *Controller) tcpPacket(conn *meta.Conn, req *proto.Request) Result {
	n, ok := req.Int(0)
	if !ok || n < 0 || n > proto.MaxPacketLen {
		logBad(proto.OpPacket, conn)
		return Close(FaultMalformed)
	}
	conn.PendingPayload = n
	return Continue()
}
