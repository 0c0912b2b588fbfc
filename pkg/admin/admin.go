// Package admin serves the local administrative endpoint: a line-oriented
// command socket for inspecting the running daemon. Clients send one command
// line and receive a single framed reply.
//
// Reply framing: `ok <content-type> <length>\n` followed by exactly length
// body bytes, or `err <message>\n`.
package admin

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/codec"
)

// NodeDump is one directory entry in a `dump nodes` reply.
type NodeDump struct {
	Name         string `json:"name" cbor:"1,keyasint"`
	Address      string `json:"address,omitempty" cbor:"2,keyasint,omitempty"`
	Version      int    `json:"version" cbor:"3,keyasint"`
	Via          string `json:"via,omitempty" cbor:"4,keyasint,omitempty"`
	Nexthop      string `json:"nexthop,omitempty" cbor:"5,keyasint,omitempty"`
	Reachable    bool   `json:"reachable" cbor:"6,keyasint"`
	UDPConfirmed bool   `json:"udp_confirmed" cbor:"7,keyasint"`
	Direct       bool   `json:"direct" cbor:"8,keyasint"`
}

// ConnDump is one live meta-channel in a `dump connections` reply.
type ConnDump struct {
	Name     string `json:"name,omitempty" cbor:"1,keyasint,omitempty"`
	Hostname string `json:"hostname" cbor:"2,keyasint"`
	Outgoing bool   `json:"outgoing" cbor:"3,keyasint"`
	Pinged   bool   `json:"pinged" cbor:"4,keyasint"`
	QueueLen int    `json:"queue_len" cbor:"5,keyasint"`
}

// StateSource is the daemon-side view the endpoint exposes. Implementations
// must be safe for concurrent use.
type StateSource interface {
	DumpNodes() []NodeDump
	DumpConnections() []ConnDump
}

// Server answers admin commands over an accepted listener.
type Server struct {
	src    StateSource
	codecs *codec.Registry

	mu sync.Mutex
	ln net.Listener
}

// NewServer builds a server over the given state source.
func NewServer(src StateSource) (*Server, error) {
	reg, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Server{src: src, codecs: reg}, nil
}

// Serve accepts and answers connections until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("admin accept: %w", err)
		}
		go func() {
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

// Close shuts the listener down; Serve returns nil.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	body, contentType, err := s.execute(strings.Fields(line))
	if err != nil {
		fmt.Fprintf(conn, "err %s\n", err)
		return
	}
	if _, err := fmt.Fprintf(conn, "ok %s %d\n", contentType, len(body)); err != nil {
		return
	}
	if _, err := conn.Write(body); err != nil {
		zap.L().Debug("admin reply failed", zap.Error(err))
	}
}

func (s *Server) execute(args []string) (body []byte, contentType string, err error) {
	if len(args) == 0 {
		return nil, "", errors.New("empty command")
	}
	format := "json"
	switch args[0] {
	case "dump":
		if len(args) < 2 {
			return nil, "", errors.New("dump: missing subject")
		}
		if len(args) > 2 {
			format = args[2]
		}
		c, err := s.codecs.Get(format)
		if err != nil {
			return nil, "", err
		}
		var v any
		switch args[1] {
		case "nodes":
			v = s.src.DumpNodes()
		case "connections":
			v = s.src.DumpConnections()
		default:
			return nil, "", fmt.Errorf("dump: unknown subject %q", args[1])
		}
		b, err := c.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode dump: %w", err)
		}
		return b, c.ContentType(), nil
	default:
		return nil, "", fmt.Errorf("unknown command %q", args[0])
	}
}
