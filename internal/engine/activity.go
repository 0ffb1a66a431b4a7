package engine

import (
	"context"
	"time"

	"github.com/lemline/lemline/internal/dsl"
)

// ActivityRunner executes the behavior of activity-kind nodes (§4.5).
// Flow nodes never call it; engine stays decoupled from HTTP/process/
// broker concerns so internal/activity can depend on engine's types
// without a cycle.
type ActivityRunner interface {
	// Run executes node (one of the activity Kinds) against input/scope
	// and returns its rawOutput. For KindWait it returns a nil output
	// and a non-nil wait delay instead.
	Run(ctx context.Context, node *Node, input interface{}, scope dsl.Scope) (output interface{}, waitDelay *time.Duration, err error)
}
