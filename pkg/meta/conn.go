// Package meta implements the meta-channel: the control-plane connection to
// one peer. It frames whitespace-delimited request lines interleaved with raw
// fallback-payload runs, and owns the outbound byte buffer whose depth gates
// the TCP fallback path.
package meta

import (
	"net"
	"net/netip"
	"time"

	"github.com/xgongx/tinc/pkg/netutil"
)

// Conn is the state of one active meta-channel. Protocol-visible fields
// (Pinged, PendingPayload, Outgoing) are mutated by request handlers under
// the directory lock; the framing loops never touch them concurrently.
type Conn struct {
	Name     string // peer identifier, set after the ID exchange
	Hostname string // display name of the remote endpoint

	// Pinged is armed by an outstanding ping; LastPing is when it was sent.
	Pinged   bool
	LastPing time.Time

	// PendingPayload is nonzero exactly when a PACKET header has been
	// parsed but its body has not yet arrived: the read loop must consume
	// that many raw bytes before line framing resumes.
	PendingPayload int

	// Outgoing is non-nil on channels this side initiated and carries the
	// reconnection state a confirmed pong resets.
	Outgoing *Outgoing

	q     *OutQueue
	limit *TokenBucket
	nc    net.Conn
	local netutil.SockAddr
}

// NewConn creates a connection whose output queue is capped at maxOutBuf
// bytes of fallback data. The connection transmits nothing until Start.
func NewConn(hostname string, maxOutBuf int) *Conn {
	return &Conn{
		Hostname: hostname,
		q:        NewOutQueue(maxOutBuf),
	}
}

// SetRateLimit caps egress at ratePerSec bytes per second. Zero disables.
func (c *Conn) SetRateLimit(ratePerSec int64) {
	if ratePerSec > 0 {
		c.limit = NewTokenBucket(ratePerSec, 2*ratePerSec)
	}
}

// Attach binds the channel to a network connection and records its local
// endpoint.
func (c *Conn) Attach(nc net.Conn) {
	c.nc = nc
	if c.Hostname == "" {
		c.Hostname = nc.RemoteAddr().String()
	}
	if ap, err := netip.ParseAddrPort(nc.LocalAddr().String()); err == nil {
		c.local = netutil.FromAddrPort(ap)
	}
}

// SendRequest queues one control line for transmission.
func (c *Conn) SendRequest(line string) error {
	return c.q.Push(ClassControl, append([]byte(line), '\n'))
}

// SendPacket queues a fallback packet: its header line and raw payload as a
// single frame, so no control line can be interleaved between them.
func (c *Conn) SendPacket(header string, payload []byte) error {
	b := make([]byte, 0, len(header)+1+len(payload))
	b = append(b, header...)
	b = append(b, '\n')
	b = append(b, payload...)
	return c.q.Push(ClassData, b)
}

// LocalSockAddr is the local endpoint of the channel, when known.
func (c *Conn) LocalSockAddr() (netutil.SockAddr, bool) {
	return c.local, c.local.IsValid()
}

// SetLocalSockAddr overrides the recorded local endpoint. Used by tests and
// by listeners that know better than nc.LocalAddr (e.g. behind NAT).
func (c *Conn) SetLocalSockAddr(a netutil.SockAddr) { c.local = a }

// QueueLen is the current outbound buffer occupancy in bytes.
func (c *Conn) QueueLen() int { return c.q.Len() }

// Queue exposes the output queue. Tests use it as a transmit spy.
func (c *Conn) Queue() *OutQueue { return c.q }

// Close shuts the channel down: the queue stops accepting frames and the
// framing loops unblock.
func (c *Conn) Close() {
	c.q.Close()
	if c.nc != nil {
		_ = c.nc.Close()
	}
}

// Outgoing is the reconnection state of a locally initiated channel. The
// dialer consults it between attempts; a confirmed pong resets it so backoff
// accumulated from earlier failures does not outlive proven liveness.
type Outgoing struct {
	// Address is the configured endpoint, "host:port".
	Address string
	// Timeout is the current retry backoff.
	Timeout time.Duration
	// Token caches the configuration snapshot used for the next attempt.
	Token string
	// Cursor iterates the resolved addresses of Address.
	Cursor *AddrCursor
}

// Reset clears all retry state: zero backoff, no cached configuration, and
// the resolved-address cursor released.
func (o *Outgoing) Reset() {
	o.Timeout = 0
	o.Token = ""
	if o.Cursor != nil {
		o.Cursor.Release()
		o.Cursor = nil
	}
}

// AddrCursor walks the resolved addresses of a dial target so consecutive
// attempts try alternatives before re-resolving.
type AddrCursor struct {
	addrs []string
	next  int
}

// ResolveAddrCursor resolves address ("host:port") into a cursor over
// "ip:port" candidates.
func ResolveAddrCursor(address string) (*AddrCursor, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return nil, err
	}
	c := &AddrCursor{addrs: make([]string, 0, len(ips))}
	for _, ip := range ips {
		c.addrs = append(c.addrs, net.JoinHostPort(ip, port))
	}
	return c, nil
}

// CursorFromAddrs builds a cursor over literal "ip:port" candidates,
// skipping resolution.
func CursorFromAddrs(addrs []string) *AddrCursor {
	return &AddrCursor{addrs: addrs}
}

// Next returns the following candidate, or false when exhausted.
func (c *AddrCursor) Next() (string, bool) {
	if c == nil || c.next >= len(c.addrs) {
		return "", false
	}
	a := c.addrs[c.next]
	c.next++
	return a, true
}

// Release drops the resolved addresses.
func (c *AddrCursor) Release() {
	c.addrs = nil
	c.next = 0
}
