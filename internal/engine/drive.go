package engine

import (
	"context"
	"time"

	"github.com/lemline/lemline/internal/dsl"
)

// PendingRetry describes a retry the Drive loop decided on, consumed by
// the Consumer (C8) to pick the §4.7 post-run routing; an uncaught fault
// is returned separately by Drive as a *dsl.Error.
type PendingRetry struct {
	Node  *Node
	Delay time.Duration
}

// Drive owns the instance loop (§4.7): repeated tryRun passes,
// resolving raised errors via the nearest catching Try, until the
// instance reaches a terminal or suspended status.
func (inst *Instance) Drive(ctx context.Context) (*PendingRetry, *dsl.Error, error) {
	inst.Status = StatusRunning
	for {
		exc, err := inst.tryRun(ctx)
		if err != nil {
			return nil, nil, err
		}
		if exc == nil {
			return nil, nil, nil
		}

		t, delay, catchDo, pErr := propagate(inst, exc)
		if pErr != nil {
			return nil, nil, pErr
		}
		if t == nil {
			inst.Status = StatusFaulted
			inst.Current = exc.Raising
			return nil, exc.Err, nil
		}
		if delay != nil {
			inst.Current = t
			inst.Status = StatusRunning
			return &PendingRetry{Node: t, Delay: *delay}, nil, nil
		}

		tryState := inst.stateFor(t.Position)
		catchState := inst.stateFor(catchDo.Position)
		catchState.RawInput = tryState.RawInput
		catchState.RawOutput = nil
		catchState.ChildIndex = -1
		inst.Current = catchDo
		inst.Status = StatusRunning
		// loop again: tryRun will see catchDo has no output yet and
		// drive from there.
	}
}

// tryRun implements the `tryRun()` pseudocode verbatim (§4.7): it
// drives flow nodes synchronously until either the workflow completes,
// or the next activity has executed, or an error is raised (returned
// as a WorkflowException rather than propagated as a Go error, which is
// reserved for non-workflow failures like context cancellation).
func (inst *Instance) tryRun(ctx context.Context) (*WorkflowException, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	cur := inst.nodeInstance(inst.Current)

	if cur.state().HasOutput() && cur.Node.Kind != KindTry {
		next, err := cur.continueNode()
		if err != nil {
			return toException(cur, err), nil
		}
		cur = next
	}

	for cur != nil {
		if cur.shouldStart() {
			if IsActivity(cur.Node.Kind) {
				break
			}
			if err := cur.execute(ctx); err != nil {
				return toException(cur, err), nil
			}
			next, err := cur.continueNode()
			if err != nil {
				return toException(cur, err), nil
			}
			cur = next
		} else {
			if cur.Node.Parent == nil {
				cur = nil
				break
			}
			parent := inst.nodeInstance(cur.Node.Parent)
			next, err := parent.continueNode()
			if err != nil {
				return toException(parent, err), nil
			}
			cur = next
		}
	}

	if cur == nil {
		inst.Status = StatusCompleted
		inst.Current = nil
		return nil, nil
	}

	inst.Current = cur.Node
	if err := cur.execute(ctx); err != nil {
		return toException(cur, err), nil
	}
	if cur.Node.Kind == KindWait {
		inst.Status = StatusWaiting
	} else {
		inst.Status = StatusRunning
	}
	return nil, nil
}

func toException(cur *NodeInstance, err error) *WorkflowException {
	if we, ok := err.(*WorkflowException); ok {
		return we
	}
	return &WorkflowException{Err: dsl.AsError(cur.Node.Position, err), Raising: cur.Node}
}
