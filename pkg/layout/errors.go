package layout

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

// ErrInvalidGeometry marks non-finite coordinates produced during a
// layout pass. It never escapes Layout: offending nodes are coerced to
// the fallback position and the error is only logged.
var ErrInvalidGeometry = errors.New("invalid geometry")

// InvalidGeometryError reports the node and offending coordinate value
// that failed the finite-geometry check.
type InvalidGeometryError struct {
	NodeID conversation.BranchID
	Value  float64
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid geometry for node %s: %v", e.NodeID, e.Value)
}

func (e *InvalidGeometryError) Is(target error) bool {
	return target == ErrInvalidGeometry
}
