package viewport

// Package viewport computes camera transforms for the branch tree:
// fit a set of nodes into the view, or focus one node with a mild
// zoom-in biased toward its parent. All functions are pure: the same
// inputs always yield the same transform. The navigator owns no clock;
// it returns target state plus animation parameters and the host
// renderer interpolates.
//
// Transform semantics follow the usual pan/zoom canvas convention:
// screen = scene*zoom + (X, Y).

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/layout"
)

// ErrNoTargets is returned when a fit request has nothing to frame.
var ErrNoTargets = errors.New("no target nodes to frame")

// Transform is a camera state: pan offset plus zoom.
type Transform struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Zoom float64 `json:"zoom" yaml:"zoom"`
}

type Easing string

const (
	EaseOut        Easing = "ease-out"
	EaseInOutCubic Easing = "cubic-in-out"
)

// Animation describes how the host should interpolate toward a
// transform.
type Animation struct {
	Duration time.Duration
	Easing   Easing
}

// Config holds the camera tuning knobs.
type Config struct {
	// Padding shrinks the available view on every side before the fit
	// ratio is computed.
	Padding float64
	MinZoom float64
	MaxZoom float64
	// FitZoomCap bounds how far a fit may zoom in; small trees stay
	// readable instead of filling the screen.
	FitZoomCap float64
	// FocusZoomFactor multiplies the fitted zoom on focus, capped at
	// FocusZoomCap.
	FocusZoomFactor float64
	FocusZoomCap    float64
	// ParentBias weighs the parent's vertical center into a focus
	// target, 0 keeps plain centering, 1 centers on the parent.
	ParentBias float64

	FitDuration   time.Duration
	FocusDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Padding:         64,
		MinZoom:         0.1,
		MaxZoom:         2.0,
		FitZoomCap:      1.0,
		FocusZoomFactor: 1.15,
		FocusZoomCap:    1.4,
		ParentBias:      0.35,
		FitDuration:     400 * time.Millisecond,
		FocusDuration:   600 * time.Millisecond,
	}
}

type Option func(*Config)

func WithPadding(padding float64) Option {
	return func(c *Config) {
		c.Padding = padding
	}
}

func WithZoomRange(min, max float64) Option {
	return func(c *Config) {
		c.MinZoom = min
		c.MaxZoom = max
	}
}

func WithFitZoomCap(zoomCap float64) Option {
	return func(c *Config) {
		c.FitZoomCap = zoomCap
	}
}

func WithFocusZoom(factor, zoomCap float64) Option {
	return func(c *Config) {
		c.FocusZoomFactor = factor
		c.FocusZoomCap = zoomCap
	}
}

func WithParentBias(bias float64) Option {
	return func(c *Config) {
		c.ParentBias = bias
	}
}

func WithDurations(fit, focus time.Duration) Option {
	return func(c *Config) {
		c.FitDuration = fit
		c.FocusDuration = focus
	}
}

// Navigator turns positioned nodes into camera transforms.
type Navigator struct {
	cfg Config
}

func NewNavigator(options ...Option) *Navigator {
	cfg := DefaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	return &Navigator{cfg: cfg}
}

func (n *Navigator) Config() Config {
	return n.cfg
}

// FitNodes frames the nodes named by ids; an empty ids list frames
// every node. The zoom is the smallest axis ratio of available view to
// bounding box, capped and clamped, and the translation centers the
// box.
func (n *Navigator) FitNodes(view layout.Size, nodes []layout.PositionedNode, ids []conversation.BranchID) (Transform, Animation, error) {
	anim := Animation{Duration: n.cfg.FitDuration, Easing: EaseOut}

	targets := selectTargets(nodes, ids)
	if len(targets) == 0 {
		if len(ids) > 0 {
			return Transform{}, anim, &conversation.BranchNotFoundError{ID: ids[0]}
		}
		return Transform{}, anim, ErrNoTargets
	}

	lo, hi, ok := bounds(targets)
	if !ok {
		return Transform{}, anim, errors.Wrap(ErrNoTargets, "no finite geometry")
	}

	zoom := n.fitZoom(view, hi.X-lo.X, hi.Y-lo.Y)
	center := layout.Point{X: (lo.X + hi.X) / 2, Y: (lo.Y + hi.Y) / 2}
	log.Trace().
		Int("targets", len(targets)).
		Float64("zoom", zoom).
		Msg("fit transform computed")
	return n.centerOn(view, center, zoom), anim, nil
}

// FitNode frames a single node.
func (n *Navigator) FitNode(view layout.Size, nodes []layout.PositionedNode, id conversation.BranchID) (Transform, Animation, error) {
	return n.FitNodes(view, nodes, []conversation.BranchID{id})
}

// FocusNode frames one node with a mild zoom-in on top of its fitted
// zoom. When the parent is present its vertical center is blended into
// the target so that jumping to a child keeps the parent in frame.
func (n *Navigator) FocusNode(view layout.Size, nodes []layout.PositionedNode, id, parentID conversation.BranchID) (Transform, Animation, error) {
	anim := Animation{Duration: n.cfg.FocusDuration, Easing: EaseInOutCubic}

	target, ok := findNode(nodes, id)
	if !ok {
		return Transform{}, anim, &conversation.BranchNotFoundError{ID: id}
	}

	fitted := n.fitZoom(view, target.Size.Width, target.Size.Height)
	zoom := n.clampZoom(math.Min(fitted*n.cfg.FocusZoomFactor, n.cfg.FocusZoomCap))

	center := target.Center()
	if parent, found := findNode(nodes, parentID); found && parentID != id {
		center.Y = center.Y*(1-n.cfg.ParentBias) + parent.Center().Y*n.cfg.ParentBias
	}
	return n.centerOn(view, center, zoom), anim, nil
}

// fitZoom returns the zoom that fits a box of the given dimensions into
// the padded view. Degenerate boxes and hostile view sizes contribute
// no ratio, leaving the cap.
func (n *Navigator) fitZoom(view layout.Size, boxW, boxH float64) float64 {
	zoom := n.cfg.FitZoomCap
	availW := view.Width - 2*n.cfg.Padding
	availH := view.Height - 2*n.cfg.Padding
	if finite(boxW) && boxW > 0 && finite(availW) && availW > 0 {
		zoom = math.Min(zoom, availW/boxW)
	}
	if finite(boxH) && boxH > 0 && finite(availH) && availH > 0 {
		zoom = math.Min(zoom, availH/boxH)
	}
	return n.clampZoom(zoom)
}

func (n *Navigator) clampZoom(zoom float64) float64 {
	zoom = math.Min(math.Max(zoom, n.cfg.MinZoom), n.cfg.MaxZoom)
	if !finite(zoom) || zoom <= 0 {
		zoom = 1
	}
	return zoom
}

// centerOn translates so that the scene point lands at the view center.
func (n *Navigator) centerOn(view layout.Size, center layout.Point, zoom float64) Transform {
	x := view.Width/2 - center.X*zoom
	y := view.Height/2 - center.Y*zoom
	if !finite(x) {
		x = 0
	}
	if !finite(y) {
		y = 0
	}
	return Transform{X: x, Y: y, Zoom: zoom}
}

func selectTargets(nodes []layout.PositionedNode, ids []conversation.BranchID) []layout.PositionedNode {
	if len(ids) == 0 {
		return nodes
	}
	want := make(map[conversation.BranchID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]layout.PositionedNode, 0, len(ids))
	for _, node := range nodes {
		if want[node.ID] {
			out = append(out, node)
		}
	}
	return out
}

func findNode(nodes []layout.PositionedNode, id conversation.BranchID) (layout.PositionedNode, bool) {
	if id.IsZero() {
		return layout.PositionedNode{}, false
	}
	for _, node := range nodes {
		if node.ID == id {
			return node, true
		}
	}
	return layout.PositionedNode{}, false
}

// bounds computes the bounding box over nodes with finite geometry.
func bounds(nodes []layout.PositionedNode) (layout.Point, layout.Point, bool) {
	lo := layout.Point{X: math.Inf(1), Y: math.Inf(1)}
	hi := layout.Point{X: math.Inf(-1), Y: math.Inf(-1)}
	any := false
	for _, node := range nodes {
		x2 := node.Position.X + node.Size.Width
		y2 := node.Position.Y + node.Size.Height
		if !finite(node.Position.X) || !finite(node.Position.Y) || !finite(x2) || !finite(y2) {
			continue
		}
		any = true
		lo.X = math.Min(lo.X, node.Position.X)
		lo.Y = math.Min(lo.Y, node.Position.Y)
		hi.X = math.Max(hi.X, x2)
		hi.Y = math.Max(hi.Y, y2)
	}
	return lo, hi, any
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
