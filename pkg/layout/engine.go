package layout

// Package layout computes 2-D positions and dimensions for the branch
// tree. Placement is deterministic and tolerant: the same nodes, edges,
// and minimize states always produce the same geometry, every emitted
// coordinate is finite, and a malformed node degrades to the fallback
// position instead of aborting the pass.
//
// The pass runs in stages: per-node dimensions from message count and
// minimize state, layered placement by tree depth, sibling rows grouped
// into units and centered under their parent, root pinned to the
// canonical position, and a final sweep that coerces any non-finite
// geometry.

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/graph"
)

var layoutCallCounter = int64(0)

// Engine positions branch nodes. Construct with NewEngine; the zero
// value has no usable sizing.
type Engine struct {
	cfg Config
}

func NewEngine(options ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Layout computes a position and size for every distinct node in the
// input. Parent links on the nodes are authoritative for topology;
// edges fill in parents for nodes built without one. Nodes whose parent
// chain never reaches a placed node are parked at the fallback
// position. The result is sorted by node id.
func (e *Engine) Layout(nodes []graph.Node, edges []graph.Edge) []PositionedNode {
	callID := atomic.AddInt64(&layoutCallCounter, 1)
	start := time.Now()

	ordered := dedupeByID(nodes)
	if len(ordered) == 0 {
		return []PositionedNode{}
	}

	fallback := e.cfg.FallbackPosition
	if !finitePoint(fallback) {
		fallback = Point{}
	}

	if len(ordered) == 1 {
		n := ordered[0]
		pos := e.cfg.RootPosition
		if !finitePoint(pos) {
			pos = fallback
		}
		return []PositionedNode{{
			Node:     n,
			Position: pos,
			Size:     sanitizeSize(e.cfg.NodeSize(n), n.Minimized),
		}}
	}

	sizes := make(map[conversation.BranchID]Size, len(ordered))
	compact := true
	for _, n := range ordered {
		sizes[n.ID] = e.cfg.NodeSize(n)
		if !n.Minimized {
			compact = false
		}
	}
	spacing := e.cfg.Expanded
	if compact {
		spacing = e.cfg.Compact
	}

	byID := make(map[conversation.BranchID]graph.Node, len(ordered))
	for _, n := range ordered {
		byID[n.ID] = n
	}
	parents := resolveParents(ordered, byID, edges)
	children := childIndex(ordered, byID, parents)
	tops := topLevel(ordered, byID, parents)

	positions := make(map[conversation.BranchID]Point, len(ordered))

	// top-level row: the root sits at the canonical position, orphaned
	// subtree roots line up to its right at the same y
	x := e.cfg.RootPosition.X
	for i, id := range tops {
		if i > 0 {
			x += spacing.Unit
		}
		positions[id] = Point{X: x, Y: e.cfg.RootPosition.Y}
		x += sizes[id].Width
	}

	queue := append([]conversation.BranchID{}, tops...)
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		kids := children[parentID]
		if len(kids) == 0 {
			continue
		}
		placeRow(positions[parentID], sizes[parentID], kids, sizes, spacing, positions)
		for _, k := range kids {
			queue = append(queue, k.ID)
		}
	}

	out := make([]PositionedNode, 0, len(ordered))
	coerced := 0
	for _, n := range ordered {
		pos, ok := positions[n.ID]
		if !ok || !finitePoint(pos) {
			value := math.NaN()
			if ok && finite(pos.X) {
				value = pos.Y
			} else if ok {
				value = pos.X
			}
			geoErr := &InvalidGeometryError{NodeID: n.ID, Value: value}
			log.Debug().
				Err(geoErr).
				Str("nodeID", n.ID.String()).
				Msg("coercing node to fallback position")
			pos = fallback
			coerced++
		}
		out = append(out, PositionedNode{
			Node:     n,
			Position: pos,
			Size:     sanitizeSize(sizes[n.ID], n.Minimized),
		})
	}

	log.Trace().
		Int64("layoutCallID", callID).
		Int("nodes", len(out)).
		Int("coerced", coerced).
		Bool("compact", compact).
		Dur("duration", time.Since(start)).
		Msg("layout pass complete")

	return out
}

// placeRow lays a parent's children out in a single row centered under
// the parent. Every child lands on the same y: the parent's bottom edge
// plus one rank gap. Children sharing a group stay adjacent.
func placeRow(
	parent Point,
	parentSize Size,
	kids []graph.Node,
	sizes map[conversation.BranchID]Size,
	spacing Spacing,
	positions map[conversation.BranchID]Point,
) {
	units := groupUnits(kids)

	rowWidth := 0.0
	for i, u := range units {
		if i > 0 {
			rowWidth += spacing.Unit
		}
		for j, m := range u.members {
			if j > 0 {
				rowWidth += spacing.Item
			}
			rowWidth += sizes[m.ID].Width
		}
	}

	x := parent.X + parentSize.Width/2 - rowWidth/2
	y := parent.Y + parentSize.Height + spacing.Rank
	for i, u := range units {
		if i > 0 {
			x += spacing.Unit
		}
		for j, m := range u.members {
			if j > 0 {
				x += spacing.Item
			}
			positions[m.ID] = Point{X: x, Y: y}
			x += sizes[m.ID].Width
		}
	}
}

type unit struct {
	members []graph.Node
}

// groupUnits regroups children into placement units: children sharing a
// GroupID form one unit and stay adjacent, ungrouped children are
// singleton units. Units follow the id order of their first member;
// members keep id order. Input must already be sorted by id.
func groupUnits(kids []graph.Node) []unit {
	units := make([]unit, 0, len(kids))
	index := map[string]int{}
	for _, k := range kids {
		if k.GroupID == "" {
			units = append(units, unit{members: []graph.Node{k}})
			continue
		}
		if i, ok := index[k.GroupID]; ok {
			units[i].members = append(units[i].members, k)
			continue
		}
		index[k.GroupID] = len(units)
		units = append(units, unit{members: []graph.Node{k}})
	}
	return units
}

// dedupeByID sorts a copy of the input by id and keeps the first record
// for each id, making the pass independent of input order.
func dedupeByID(nodes []graph.Node) []graph.Node {
	ordered := append([]graph.Node{}, nodes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})
	out := make([]graph.Node, 0, len(ordered))
	for i, n := range ordered {
		if i > 0 && n.ID == out[len(out)-1].ID {
			continue
		}
		out = append(out, n)
	}
	return out
}

// resolveParents returns the effective parent of each node. A node's
// own parent link wins; edges supply a parent only for nodes that carry
// none. Self-links are dropped.
func resolveParents(
	nodes []graph.Node,
	byID map[conversation.BranchID]graph.Node,
	edges []graph.Edge,
) map[conversation.BranchID]conversation.BranchID {
	parents := make(map[conversation.BranchID]conversation.BranchID, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() || n.ParentID.IsZero() || n.ParentID == n.ID {
			continue
		}
		parents[n.ID] = n.ParentID
	}

	ordered := append([]graph.Edge{}, edges...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})
	for _, edge := range ordered {
		if edge.Source == edge.Target {
			continue
		}
		if _, ok := parents[edge.Target]; ok {
			continue
		}
		target, ok := byID[edge.Target]
		if !ok || target.IsRoot() {
			continue
		}
		parents[edge.Target] = edge.Source
	}
	return parents
}

// childIndex maps each present parent to its children, in id order.
func childIndex(
	nodes []graph.Node,
	byID map[conversation.BranchID]graph.Node,
	parents map[conversation.BranchID]conversation.BranchID,
) map[conversation.BranchID][]graph.Node {
	children := make(map[conversation.BranchID][]graph.Node)
	for _, n := range nodes {
		p, ok := parents[n.ID]
		if !ok {
			continue
		}
		if _, present := byID[p]; !present {
			continue
		}
		children[p] = append(children[p], n)
	}
	return children
}

// topLevel returns the placement roots: the main node first, then every
// node whose parent is missing from the input, in id order.
func topLevel(
	nodes []graph.Node,
	byID map[conversation.BranchID]graph.Node,
	parents map[conversation.BranchID]conversation.BranchID,
) []conversation.BranchID {
	var rootID conversation.BranchID
	haveRoot := false
	var orphans []conversation.BranchID
	for _, n := range nodes {
		if n.IsRoot() && !haveRoot {
			rootID = n.ID
			haveRoot = true
			continue
		}
		p, ok := parents[n.ID]
		if !ok {
			orphans = append(orphans, n.ID)
			continue
		}
		if _, present := byID[p]; !present {
			orphans = append(orphans, n.ID)
		}
	}
	if haveRoot {
		return append([]conversation.BranchID{rootID}, orphans...)
	}
	return orphans
}
