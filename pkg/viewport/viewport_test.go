package viewport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/graph"
	"github.com/casualhermit27/branched-sub001/pkg/layout"
)

func positioned(id string, x, y, w, h float64) layout.PositionedNode {
	return layout.PositionedNode{
		Node:     graph.NewBranchNode(conversation.BranchID(id), conversation.MainBranchID),
		Position: layout.Point{X: x, Y: y},
		Size:     layout.Size{Width: w, Height: h},
	}
}

func TestFitNodesUsesMinAxisRatio(t *testing.T) {
	nav := NewNavigator(
		WithPadding(50),
		WithZoomRange(0.1, 4),
		WithFitZoomCap(3),
	)
	view := layout.Size{Width: 1000, Height: 800}
	nodes := []layout.PositionedNode{
		positioned("branch-a", 0, 0, 200, 350),
		positioned("branch-b", 250, 100, 200, 150),
	}

	// bounding box (0,0)-(450,350); avail 900x700; both ratios are 2
	tr, anim, err := nav.FitNodes(view, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, tr.Zoom)
	assert.Equal(t, 500.0-225.0*2, tr.X)
	assert.Equal(t, 400.0-175.0*2, tr.Y)
	assert.Equal(t, EaseOut, anim.Easing)
	assert.Equal(t, nav.Config().FitDuration, anim.Duration)
}

func TestFitNodesPicksTheTighterAxis(t *testing.T) {
	nav := NewNavigator(WithPadding(50), WithZoomRange(0.1, 4), WithFitZoomCap(3))
	view := layout.Size{Width: 1000, Height: 800}
	// box 900x350: width ratio 1, height ratio 2
	nodes := []layout.PositionedNode{positioned("branch-a", 0, 0, 900, 350)}

	tr, _, err := nav.FitNodes(view, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tr.Zoom)
}

func TestFitZoomIsCapped(t *testing.T) {
	nav := NewNavigator(WithPadding(50))
	view := layout.Size{Width: 1000, Height: 800}
	nodes := []layout.PositionedNode{positioned("branch-a", 100, 200, 10, 10)}

	tr, _, err := nav.FitNodes(view, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, nav.Config().FitZoomCap, tr.Zoom)
	assert.Equal(t, 500.0-105.0*tr.Zoom, tr.X)
	assert.Equal(t, 400.0-205.0*tr.Zoom, tr.Y)
}

func TestFitSubsetByID(t *testing.T) {
	nav := NewNavigator(WithPadding(0), WithZoomRange(0.1, 4), WithFitZoomCap(4))
	view := layout.Size{Width: 400, Height: 400}
	nodes := []layout.PositionedNode{
		positioned("branch-a", 0, 0, 100, 100),
		positioned("branch-far", 10000, 10000, 100, 100),
	}

	tr, _, err := nav.FitNode(view, nodes, conversation.BranchID("branch-a"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, tr.Zoom)
	assert.Equal(t, 200.0-50.0*4, tr.X)
}

func TestFitUnknownIDReturnsBranchNotFound(t *testing.T) {
	nav := NewNavigator()
	view := layout.Size{Width: 400, Height: 400}
	nodes := []layout.PositionedNode{positioned("branch-a", 0, 0, 100, 100)}

	_, _, err := nav.FitNode(view, nodes, conversation.BranchID("branch-missing"))
	require.ErrorIs(t, err, conversation.ErrBranchNotFound)

	_, _, err = nav.FitNodes(view, nil, nil)
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestDegenerateBoxFallsBackToCap(t *testing.T) {
	nav := NewNavigator()
	view := layout.Size{Width: 1000, Height: 800}
	nodes := []layout.PositionedNode{positioned("branch-a", 300, 200, 0, 0)}

	tr, _, err := nav.FitNodes(view, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, nav.Config().FitZoomCap, tr.Zoom)
	assert.Equal(t, 500.0-300.0*tr.Zoom, tr.X)
}

func TestFitIsIdempotent(t *testing.T) {
	nav := NewNavigator()
	view := layout.Size{Width: 1024, Height: 768}
	nodes := []layout.PositionedNode{
		positioned("branch-a", -100, 40, 320, 180),
		positioned("branch-b", 400, 300, 320, 120),
	}
	tr1, anim1, err1 := nav.FitNodes(view, nodes, nil)
	tr2, anim2, err2 := nav.FitNodes(view, nodes, nil)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, tr1, tr2)
	assert.Equal(t, anim1, anim2)
}

func TestFocusZoomsInOnFittedZoom(t *testing.T) {
	nav := NewNavigator(WithPadding(50), WithParentBias(0.35))
	cfg := nav.Config()
	view := layout.Size{Width: 1200, Height: 900}

	parent := positioned("branch-parent", 0, 0, 300, 100)
	child := positioned("branch-child", 100, 100, 300, 200)
	nodes := []layout.PositionedNode{parent, child}

	tr, anim, err := nav.FocusNode(view, nodes, child.ID, parent.ID)
	require.NoError(t, err)

	// fitted zoom hits the cap of 1.0, boosted by the focus factor
	wantZoom := cfg.FitZoomCap * cfg.FocusZoomFactor
	assert.InDelta(t, wantZoom, tr.Zoom, 1e-9)

	biasedY := child.Center().Y*(1-cfg.ParentBias) + parent.Center().Y*cfg.ParentBias
	assert.InDelta(t, 600.0-child.Center().X*wantZoom, tr.X, 1e-9)
	assert.InDelta(t, 450.0-biasedY*wantZoom, tr.Y, 1e-9)
	assert.Equal(t, EaseInOutCubic, anim.Easing)
	assert.Equal(t, cfg.FocusDuration, anim.Duration)
}

func TestFocusWithoutParentCentersPlainly(t *testing.T) {
	nav := NewNavigator()
	view := layout.Size{Width: 1200, Height: 900}
	child := positioned("branch-child", 100, 100, 300, 200)

	tr, _, err := nav.FocusNode(view, []layout.PositionedNode{child}, child.ID, conversation.BranchID(""))
	require.NoError(t, err)
	assert.InDelta(t, 450.0-child.Center().Y*tr.Zoom, tr.Y, 1e-9)
}

func TestFocusZoomRespectsAbsoluteCap(t *testing.T) {
	nav := NewNavigator(WithFitZoomCap(2), WithFocusZoom(1.5, 1.4), WithZoomRange(0.1, 4))
	view := layout.Size{Width: 5000, Height: 5000}
	child := positioned("branch-child", 0, 0, 100, 100)

	tr, _, err := nav.FocusNode(view, []layout.PositionedNode{child}, child.ID, conversation.BranchID(""))
	require.NoError(t, err)
	assert.Equal(t, 1.4, tr.Zoom)
}

func TestFocusUnknownNode(t *testing.T) {
	nav := NewNavigator()
	_, _, err := nav.FocusNode(layout.Size{Width: 100, Height: 100}, nil, conversation.BranchID("branch-x"), conversation.BranchID(""))
	require.ErrorIs(t, err, conversation.ErrBranchNotFound)
}

func TestDurationsConfigurable(t *testing.T) {
	nav := NewNavigator(WithDurations(100*time.Millisecond, 250*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, nav.Config().FitDuration)
	assert.Equal(t, 250*time.Millisecond, nav.Config().FocusDuration)
}
