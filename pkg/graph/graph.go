package graph

// Package graph derives the presentation topology from the branch store:
// one node per branch, one edge per parent link. The graph is a value
// built on demand and thrown away after layout; the branch store stays
// the source of truth.

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

type Graph struct {
	Nodes []Node
	Edges []Edge

	byID     map[conversation.BranchID]Node
	children map[conversation.BranchID][]conversation.BranchID
}

// New builds a validated graph from nodes and edges. Every node is
// checked against the closed variant rules; the node set must contain
// exactly one main node and no parent cycles.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		Nodes:    append([]Node(nil), nodes...),
		Edges:    append([]Edge(nil), edges...),
		byID:     map[conversation.BranchID]Node{},
		children: map[conversation.BranchID][]conversation.BranchID{},
	}

	roots := 0
	for _, n := range g.Nodes {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		g.byID[n.ID] = n
		if n.IsRoot() {
			roots++
		}
	}
	if roots == 0 {
		return nil, ErrNoRoot
	}
	if roots > 1 {
		return nil, ErrMultipleRoots
	}

	for _, n := range g.Nodes {
		if n.IsRoot() {
			continue
		}
		g.children[n.ParentID] = append(g.children[n.ParentID], n.ID)
	}
	for parent := range g.children {
		ids := g.children[parent]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// FromStores derives the graph from the live branch records. Message
// counts come from each branch's display context; minimized flags are
// presentation state carried per node id.
func FromStores(branches *conversation.BranchStore, manager conversation.Manager, minimized map[conversation.BranchID]bool) (*Graph, error) {
	records := branches.List()

	nodes := make([]Node, 0, len(records))
	edges := make([]Edge, 0, len(records))
	for _, bc := range records {
		count := len(manager.GetContextForDisplay(bc.ID))
		var node Node
		if bc.IsRoot() {
			node = NewMainNode(bc.ID, WithMessageCount(count))
		} else {
			node = NewBranchNode(bc.ID, bc.ParentID,
				WithGroupID(bc.Metadata.GroupID),
				WithMessageCount(count),
			)
			edges = append(edges, NewEdge(node.ParentID, node.ID))
		}
		node.Minimized = minimized[bc.ID]
		nodes = append(nodes, node)
	}

	log.Trace().
		Int("node_count", len(nodes)).
		Int("edge_count", len(edges)).
		Msg("derived graph from branch store")

	return New(nodes, edges)
}

// Node returns the node for a branch id.
func (g *Graph) Node(id conversation.BranchID) (Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Root returns the main node.
func (g *Graph) Root() Node {
	for _, n := range g.Nodes {
		if n.IsRoot() {
			return n
		}
	}
	return Node{}
}

// Children returns the direct children of a node, sorted by id.
func (g *Graph) Children(id conversation.BranchID) []conversation.BranchID {
	return append([]conversation.BranchID(nil), g.children[id]...)
}

// DescendantsInnermostFirst returns every descendant of a node ordered
// deepest-first, so deleting in returned order never orphans a still
// listed record. The node itself is not included.
func (g *Graph) DescendantsInnermostFirst(id conversation.BranchID) []conversation.BranchID {
	var out []conversation.BranchID
	var walk func(conversation.BranchID)
	walk = func(current conversation.BranchID) {
		for _, child := range g.children[current] {
			walk(child)
			out = append(out, child)
		}
	}
	walk(id)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// checkAcyclic walks parent links from every node; revisiting a node on
// the same walk means a cycle. Unknown parents are tolerated here, the
// node simply counts as detached.
func (g *Graph) checkAcyclic() error {
	for _, n := range g.Nodes {
		seen := map[conversation.BranchID]bool{n.ID: true}
		current := n.ParentID
		for !current.IsZero() {
			if seen[current] {
				return ErrCycle
			}
			seen[current] = true
			parent, ok := g.byID[current]
			if !ok {
				break
			}
			current = parent.ParentID
		}
	}
	return nil
}

// Depth returns the number of parent hops from the node to the root.
// Nodes with unresolvable parents count from where the chain breaks.
func (g *Graph) Depth(id conversation.BranchID) int {
	depth := 0
	current, ok := g.byID[id]
	if !ok {
		return 0
	}
	for !current.ParentID.IsZero() {
		parent, ok := g.byID[current.ParentID]
		if !ok {
			break
		}
		depth++
		current = parent
	}
	return depth
}
