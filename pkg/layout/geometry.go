package layout

import (
	"math"

	"github.com/casualhermit27/branched-sub001/pkg/graph"
)

// Point is a position in scene coordinates. Node positions refer to the
// top-left corner of the node's box.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Size is a node's box in scene coordinates.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// PositionedNode is the output of a layout pass: a graph node with its
// computed position and dimensions. Positioned nodes are recomputed on
// every pass and never persisted as authoritative state.
type PositionedNode struct {
	graph.Node
	Position Point
	Size     Size
}

// Center returns the midpoint of the node's box.
func (n PositionedNode) Center() Point {
	return Point{
		X: n.Position.X + n.Size.Width/2,
		Y: n.Position.Y + n.Size.Height/2,
	}
}

// Bottom returns the y coordinate of the node's bottom edge.
func (n PositionedNode) Bottom() float64 {
	return n.Position.Y + n.Size.Height
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finitePoint(p Point) bool {
	return finite(p.X) && finite(p.Y)
}
