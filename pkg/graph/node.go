// Package graph holds the directory of known mesh participants and the relay
// topology between them. Nodes live in an index-addressed table and are
// referred to by stable handles, so via/nexthop chains can be walked without
// lifetime hazards.
package graph

import (
	"fmt"
	"sync"

	"github.com/xgongx/tinc/pkg/netutil"
)

// Handle is a stable index of a node in its Table. Handles are never reused
// within the lifetime of a table.
type Handle int

// None marks the absence of a node reference.
const None Handle = -1

// Options is the capability bit-field exchanged between peers. The top byte
// carries the peer's protocol version.
type Options uint32

const (
	// OptIndirect marks a link whose endpoint address must not be shared:
	// traffic to nodes behind it is forced through the advertising relay.
	OptIndirect Options = 1 << 0
	// OptTCPOnly disables the UDP data path for a participant entirely.
	OptTCPOnly Options = 1 << 1

	versionShift = 24
)

// MinUDPInfoVersion is the lowest protocol version that understands
// rendezvous (UDP_INFO) messages.
const MinUDPInfoVersion = 5

// Version extracts the protocol version encoded in the top byte.
func (o Options) Version() int { return int(uint32(o) >> versionShift) }

// WithVersion returns o with the version byte replaced.
func (o Options) WithVersion(v int) Options {
	return Options(uint32(o)&^(0xff<<versionShift) | uint32(v)<<versionShift)
}

// Link is the live meta-channel to a node when a direct connection exists.
// It is the transmit boundary of the rendezvous relay.
type Link interface {
	// SendRequest queues one request line for transmission.
	SendRequest(line string) error
	// LocalSockAddr is the local endpoint of the channel, when known.
	LocalSockAddr() (netutil.SockAddr, bool)
}

// Node is one known mesh participant. Fields are guarded by the Table lock;
// see Table.Lock.
type Node struct {
	Name    string
	Address netutil.SockAddr // last-known UDP endpoint
	Options Options

	// Via is the static relay this node's non-direct traffic is routed
	// through; equal to the node's own handle when no relay applies.
	// Nexthop is the immediate peer toward the node on the current path
	// and may differ from Via after shortcutting.
	Via     Handle
	Nexthop Handle

	Reachable    bool
	UDPConfirmed bool

	// Conn is the direct meta-channel to this node, nil when none exists.
	Conn Link
}

// Table is the index-addressed node directory. All node and edge mutation
// happens under its lock: handlers for a decoded request run while holding
// it, which serializes protocol-state changes across connections.
type Table struct {
	mu     sync.Mutex
	nodes  []*Node
	byName map[string]Handle
	edges  map[Handle]map[Handle]bool // adjacency; value = indirect link
	self   Handle
}

// NewTable creates a directory containing only the local node, which is
// always reachable via itself.
func NewTable(selfName string, opts Options) *Table {
	t := &Table{
		byName: make(map[string]Handle),
		edges:  make(map[Handle]map[Handle]bool),
	}
	t.self = t.register(selfName)
	self := t.nodes[t.self]
	self.Options = opts
	self.Reachable = true
	return t
}

// Lock acquires the protocol-state lock. Handlers run under it.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the protocol-state lock.
func (t *Table) Unlock() { t.mu.Unlock() }

// Self returns the handle of the local node.
func (t *Table) Self() Handle { return t.self }

// Register returns the handle for name, creating the node if it is not yet
// known. New nodes start unreachable, routed via themselves.
func (t *Table) Register(name string) Handle {
	if h, ok := t.byName[name]; ok {
		return h
	}
	return t.register(name)
}

func (t *Table) register(name string) Handle {
	h := Handle(len(t.nodes))
	n := &Node{Name: name, Via: h, Nexthop: None}
	t.nodes = append(t.nodes, n)
	t.byName[name] = h
	return h
}

// Lookup finds a node by identifier.
func (t *Table) Lookup(name string) (Handle, bool) {
	h, ok := t.byName[name]
	return h, ok
}

// Get returns the node for h. The handle must be valid.
func (t *Table) Get(h Handle) *Node { return t.nodes[h] }

// Len is the number of known nodes.
func (t *Table) Len() int { return len(t.nodes) }

// Handles returns all valid handles in registration order.
func (t *Table) Handles() []Handle {
	out := make([]Handle, len(t.nodes))
	for i := range t.nodes {
		out[i] = Handle(i)
	}
	return out
}

// Connect records a live link between two nodes. indirect marks a link whose
// far side must stay behind its relay.
func (t *Table) Connect(a, b Handle, indirect bool) {
	t.edge(a)[b] = indirect
	t.edge(b)[a] = indirect
}

// Disconnect removes the link between two nodes, if present.
func (t *Table) Disconnect(a, b Handle) {
	delete(t.edge(a), b)
	delete(t.edge(b), a)
}

func (t *Table) edge(h Handle) map[Handle]bool {
	m := t.edges[h]
	if m == nil {
		m = make(map[Handle]bool)
		t.edges[h] = m
	}
	return m
}

// WalkVia follows the via chain from h until it reaches a node that relays
// for itself. The chain must terminate within the table size; a longer walk
// means the relay topology has a cycle, which is a protocol error.
func (t *Table) WalkVia(h Handle) ([]Handle, error) {
	chain := []Handle{h}
	cur := h
	for steps := 0; steps <= len(t.nodes); steps++ {
		via := t.nodes[cur].Via
		if via == cur {
			return chain, nil
		}
		chain = append(chain, via)
		cur = via
	}
	return chain, fmt.Errorf("via chain from %s does not terminate", t.nodes[h].Name)
}
