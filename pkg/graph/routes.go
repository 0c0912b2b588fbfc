package graph

import "go.uber.org/zap"

// Recompute reruns single-source shortest path from the local node over the
// current adjacency and reassigns Reachable, Nexthop and Via for every node.
// Call it after a link is added or removed, while holding the table lock.
//
// Links have unit cost. A node reached over an indirect link, or through a
// node that is itself indirect, is pinned behind the relay that advertised
// it: its Via points at the relay while Nexthop keeps the first hop, so a
// sender can still shortcut when it happens to be the relay itself.
func (t *Table) Recompute() {
	for h, n := range t.nodes {
		n.Reachable = false
		n.Nexthop = None
		n.Via = Handle(h)
	}

	self := t.nodes[t.self]
	self.Reachable = true
	self.Nexthop = t.self
	self.Via = t.self

	indirect := make([]bool, len(t.nodes))
	queue := []Handle{t.self}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := t.nodes[cur]
		for next, indirectLink := range t.edges[cur] {
			to := t.nodes[next]
			if to.Reachable {
				continue
			}
			ind := indirect[cur] || indirectLink
			to.Reachable = true
			if cur == t.self {
				to.Nexthop = next
			} else {
				to.Nexthop = n.Nexthop
			}
			if ind {
				to.Via = n.Via
			} else {
				to.Via = next
			}
			indirect[next] = ind
			queue = append(queue, next)
		}
	}

	reachable := 0
	for _, n := range t.nodes {
		if n.Reachable {
			reachable++
		}
	}
	zap.L().Debug("routes recomputed",
		zap.Int("nodes", len(t.nodes)), zap.Int("reachable", reachable))
}
