// Package protoctl implements the decision logic of the meta-protocol: one
// handler per opcode, invoked with a decoded request, plus the routines that
// construct outgoing requests. Handlers mutate directory state under the
// table lock and report their outcome as a Result the connection layer
// collapses into its keep-open signal.
package protoctl

import (
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/meta"
	"github.com/xgongx/tinc/pkg/proto"
)

// Fault classifies why a handler asked for teardown, so intentional closes
// stay distinguishable from protocol violations.
type Fault int

const (
	// FaultNone: close was intentional (TERMREQ).
	FaultNone Fault = iota
	// FaultMalformed: wire fields failed to parse.
	FaultMalformed
	// FaultBadIdentifier: a name field failed identifier validation.
	FaultBadIdentifier
	// FaultPeerError: the remote side reported an error; always fatal.
	FaultPeerError
	// FaultTransmit: queuing an outgoing request failed.
	FaultTransmit
	// FaultUnknownOpcode: the opcode has no handler.
	FaultUnknownOpcode
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultMalformed:
		return "malformed request"
	case FaultBadIdentifier:
		return "bad identifier"
	case FaultPeerError:
		return "peer reported error"
	case FaultTransmit:
		return "transmit failure"
	case FaultUnknownOpcode:
		return "unknown opcode"
	default:
		return "fault(" + strconv.Itoa(int(f)) + ")"
	}
}

// Result is the tagged outcome of one handled request.
type Result struct {
	closing bool
	fault   Fault
}

// Continue keeps the channel open.
func Continue() Result { return Result{} }

// Close tears the channel down with the given cause.
func Close(f Fault) Result { return Result{closing: true, fault: f} }

// KeepOpen is the continuation signal consumed by the connection layer.
func (r Result) KeepOpen() bool { return !r.closing }

// Fault returns the teardown cause; FaultNone when open or intentional.
func (r Result) Fault() Fault { return r.fault }

// Controller binds the handlers to a node directory and their injected
// dependencies: the congestion parameters and the time and randomness
// sources, both replaceable for deterministic tests.
type Controller struct {
	table     *graph.Table
	maxOutBuf int
	rand      func() float64
	now       func() time.Time
}

// Config carries construction parameters for a Controller.
type Config struct {
	// MaxOutputBuffer is the process-wide outbound buffer maximum the
	// fallback-drop curve is computed against.
	MaxOutputBuffer int
	// Rand draws uniformly from [0,1). Defaults to a PCG source.
	Rand func() float64
	// Now provides the current time. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Controller over the given directory.
func New(table *graph.Table, cfg Config) *Controller {
	c := &Controller{
		table:     table,
		maxOutBuf: cfg.MaxOutputBuffer,
		rand:      cfg.Rand,
		now:       cfg.Now,
	}
	if c.rand == nil {
		src := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		c.rand = src.Float64
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Handle decodes one inbound line and dispatches it to the matching handler.
// The handler runs to completion under the table lock, including any
// recursive relay send it performs.
func (c *Controller) Handle(conn *meta.Conn, line string) Result {
	req, err := proto.Decode(line)
	if err != nil {
		zap.L().Error("got unparseable request",
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname),
			zap.Error(err))
		return Close(FaultMalformed)
	}

	c.table.Lock()
	defer c.table.Unlock()

	switch req.Op {
	case proto.OpStatus:
		return c.status(conn, &req)
	case proto.OpError:
		return c.errorh(conn, &req)
	case proto.OpTermReq:
		return c.termReq(conn, &req)
	case proto.OpPing:
		return c.ping(conn, &req)
	case proto.OpPong:
		return c.pong(conn, &req)
	case proto.OpPacket:
		return c.tcpPacket(conn, &req)
	case proto.OpUDPInfo:
		return c.udpInfo(conn, &req)
	default:
		zap.L().Error("got unknown request",
			zap.Stringer("type", req.Op),
			zap.String("peer", conn.Name), zap.String("host", conn.Hostname))
		return Close(FaultUnknownOpcode)
	}
}

// logBad records a malformed request of a known type.
func logBad(op proto.Opcode, conn *meta.Conn) {
	zap.L().Error("got bad request",
		zap.Stringer("type", op),
		zap.String("peer", conn.Name), zap.String("host", conn.Hostname))
}
