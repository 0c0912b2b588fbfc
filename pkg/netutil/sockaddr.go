// Package netutil provides the socket-address text form used on the wire by
// rendezvous messages: a host token and a port token.
package netutil

import (
	"fmt"
	"net/netip"
	"strconv"
)

// SockAddr is a UDP endpoint as advertised on the meta-channel.
// The zero value is not valid.
type SockAddr struct {
	ap netip.AddrPort
}

// ParseSockAddr parses the textual host and port tokens of a rendezvous
// message. The host must be a literal IPv4 or IPv6 address.
func ParseSockAddr(host, port string) (SockAddr, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return SockAddr{}, fmt.Errorf("bad address %q: %w", host, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return SockAddr{}, fmt.Errorf("bad port %q: %w", port, err)
	}
	return SockAddr{ap: netip.AddrPortFrom(addr.Unmap(), uint16(p))}, nil
}

// FromAddrPort wraps an already-parsed endpoint.
func FromAddrPort(ap netip.AddrPort) SockAddr {
	return SockAddr{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// HostPort returns the two wire tokens.
func (a SockAddr) HostPort() (host, port string) {
	return a.ap.Addr().String(), strconv.Itoa(int(a.ap.Port()))
}

// IsValid reports whether the address has been set.
func (a SockAddr) IsValid() bool { return a.ap.IsValid() }

// Equal compares two endpoints, address and port.
func (a SockAddr) Equal(b SockAddr) bool { return a.ap == b.ap }

func (a SockAddr) String() string {
	if !a.ap.IsValid() {
		return "<unset>"
	}
	return a.ap.String()
}
