package layout

import (
	"math"

	"github.com/casualhermit27/branched-sub001/pkg/graph"
)

// Spacing holds the gaps used while placing nodes. Rank separates a
// parent's bottom edge from its children, Unit separates sibling units
// within one row, Item separates members inside a unit.
type Spacing struct {
	Rank float64
	Unit float64
	Item float64
}

// Config holds the sizing and spacing knobs of the layout engine.
// Expanded spacing applies as soon as any node is expanded; Compact
// applies when every node is minimized, keeping the overview tight.
type Config struct {
	NodeWidth        float64
	BaseHeight       float64
	PerMessageHeight float64
	MinHeight        float64
	MaxHeight        float64

	MinimizedWidth  float64
	MinimizedHeight float64

	Expanded Spacing
	Compact  Spacing

	// RootPosition anchors the root node; the whole tree hangs off it.
	RootPosition Point
	// FallbackPosition parks nodes whose computed coordinates are
	// non-finite or missing.
	FallbackPosition Point
}

// DefaultConfig returns the sizing used when no options override it.
func DefaultConfig() Config {
	return Config{
		NodeWidth:        320,
		BaseHeight:       96,
		PerMessageHeight: 28,
		MinHeight:        120,
		MaxHeight:        560,

		MinimizedWidth:  180,
		MinimizedHeight: 56,

		Expanded: Spacing{Rank: 140, Unit: 64, Item: 24},
		Compact:  Spacing{Rank: 64, Unit: 32, Item: 12},

		RootPosition:     Point{X: 0, Y: 0},
		FallbackPosition: Point{X: 0, Y: 0},
	}
}

type Option func(*Config)

func WithNodeWidth(width float64) Option {
	return func(c *Config) {
		c.NodeWidth = width
	}
}

func WithHeightRange(base, perMessage, min, max float64) Option {
	return func(c *Config) {
		c.BaseHeight = base
		c.PerMessageHeight = perMessage
		c.MinHeight = min
		c.MaxHeight = max
	}
}

func WithMinimizedSize(width, height float64) Option {
	return func(c *Config) {
		c.MinimizedWidth = width
		c.MinimizedHeight = height
	}
}

func WithSpacing(expanded, compact Spacing) Option {
	return func(c *Config) {
		c.Expanded = expanded
		c.Compact = compact
	}
}

func WithRootPosition(p Point) Option {
	return func(c *Config) {
		c.RootPosition = p
	}
}

func WithFallbackPosition(p Point) Option {
	return func(c *Config) {
		c.FallbackPosition = p
	}
}

// NodeSize computes a node's dimensions from its message count and
// minimize state. Dimensions are recomputed on every pass, never cached.
func (c Config) NodeSize(n graph.Node) Size {
	if n.Minimized {
		return Size{Width: c.MinimizedWidth, Height: c.MinimizedHeight}
	}
	height := c.BaseHeight + float64(n.MessageCount)*c.PerMessageHeight
	height = math.Min(math.Max(height, c.MinHeight), c.MaxHeight)
	return Size{Width: c.NodeWidth, Height: height}
}

// sanitizeSize replaces non-finite or non-positive dimensions with the
// defaults, so hostile configs cannot leak invalid geometry downstream.
func sanitizeSize(s Size, minimized bool) Size {
	d := DefaultConfig()
	if !finite(s.Width) || s.Width <= 0 {
		if minimized {
			s.Width = d.MinimizedWidth
		} else {
			s.Width = d.NodeWidth
		}
	}
	if !finite(s.Height) || s.Height <= 0 {
		if minimized {
			s.Height = d.MinimizedHeight
		} else {
			s.Height = d.MinHeight
		}
	}
	return s
}
