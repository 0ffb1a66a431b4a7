package engine

import (
	"context"

	"github.com/lemline/lemline/internal/dsl"
)

// NodeInstance pairs an immutable Node with its mutable State inside a
// running Instance (§4.4). It is a thin, non-owning view: State lives
// in Instance.States keyed by Node.Position.
type NodeInstance struct {
	Node     *Node
	instance *Instance
}

func (ni *NodeInstance) state() *State {
	return ni.instance.stateFor(ni.Node.Position)
}

// scope builds the expression Scope visible to this node's expressions
// at this point in its lifecycle.
func (ni *NodeInstance) scope(input, output interface{}) dsl.Scope {
	return dsl.Scope{
		Context:       ni.instance.context(),
		Input:         input,
		Output:        output,
		Secrets:       ni.instance.Secrets,
		Authorization: nil,
		Task: map[string]interface{}{
			"name":      ni.Node.Name,
			"reference": ni.Node.Position,
		},
		Workflow: map[string]interface{}{
			"id":      ni.instance.WorkflowID,
			"name":    ni.instance.DefinitionName,
			"version": ni.instance.DefinitionVersion,
		},
		Runtime: map[string]interface{}{"name": "lemline"},
		Extra:   ni.inheritedVars(),
	}
}

// internalVars are bookkeeping keys Drive stores in State.Vars that
// must never leak into expression scope.
var internalVars = map[string]bool{
	"__forItems": true, "__tryEntered": true, "__switchThen": true,
}

// inheritedVars merges bound variables (for's each/at, catch's error
// binding) from this node's own state up through every ancestor, so a
// task nested inside a For body or a Try's catch branch can still see
// a binding set on the For/Try node itself rather than on its own,
// otherwise-empty, state. A binding closer to the current node wins
// over a same-named one further up the tree.
func (ni *NodeInstance) inheritedVars() map[string]interface{} {
	merged := make(map[string]interface{})
	var chain []*Node
	for n := ni.Node; n != nil; n = n.Parent {
		chain = append(chain, n)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range ni.instance.stateFor(chain[i].Position).Vars {
			if internalVars[k] {
				continue
			}
			merged[k] = v
		}
	}
	return merged
}

// shouldStart reports whether entry-side effects have not yet run for
// the current attempt: true until the node has produced an output.
func (ni *NodeInstance) shouldStart() bool {
	return !ni.state().HasOutput()
}

// execute runs the node's intrinsic behavior. ctx is only consulted by
// activity kinds.
func (ni *NodeInstance) execute(ctx context.Context) error {
	st := ni.state()

	stage, err := ni.runInputStage(st.RawInput)
	if err != nil {
		return ni.fail(err)
	}
	if stage.skip {
		st.RawOutput = stage.transformedInput
		return nil
	}

	raw, err := ni.runBody(ctx, stage.transformedInput)
	if err != nil {
		return ni.fail(err)
	}
	if raw == nil && ni.Node.Kind == KindWait {
		// Wait produced no output; the instance status is set to
		// WAITING by the caller (Instance.tryRun).
		return nil
	}

	out, err := ni.runOutputStage(stage.transformedInput, raw)
	if err != nil {
		return ni.fail(err)
	}
	st.RawOutput = out
	return nil
}

func (ni *NodeInstance) fail(err error) error {
	return &WorkflowException{Err: dsl.AsError(ni.Node.Position, err), Raising: ni.Node}
}

// runBody dispatches to node-kind-specific semantics (§4.4).
func (ni *NodeInstance) runBody(ctx context.Context, transformedInput interface{}) (interface{}, error) {
	switch ni.Node.Kind {
	case KindRoot:
		return transformedInput, nil
	case KindDo:
		return transformedInput, nil
	case KindSet:
		setSpec := ni.Node.TaskSpec["set"]
		scope := ni.scope(transformedInput, nil)
		return ni.evalTransform(transformedInput, setSpec, scope)
	case KindSwitch:
		return ni.runSwitch(transformedInput)
	case KindRaise:
		return nil, ni.runRaise(transformedInput)
	case KindFor, KindTry, KindFork:
		// Handled structurally by continue()/the Try engine; execute()
		// for these kinds only projects input straight through.
		return transformedInput, nil
	default:
		if IsActivity(ni.Node.Kind) {
			output, waitDelay, err := ni.instance.Activities.Run(ctx, ni.Node, transformedInput, ni.scope(transformedInput, nil))
			if err != nil {
				return nil, err
			}
			if ni.Node.Kind == KindWait {
				ni.instance.pendingWait = waitDelay
				return nil, nil
			}
			return output, nil
		}
		return nil, dsl.Newf(dsl.KindConfiguration, ni.Node.Position, "unsupported node kind %q", ni.Node.Kind)
	}
}

func (ni *NodeInstance) runSwitch(input interface{}) (interface{}, error) {
	cases, _ := ni.Node.TaskSpec["switch"].([]interface{})
	scope := ni.scope(input, nil)
	for _, c := range cases {
		m, ok := c.(map[string]interface{})
		if !ok || len(m) != 1 {
			continue
		}
		for _, caseBody := range m {
			cb, ok := caseBody.(map[string]interface{})
			if !ok {
				continue
			}
			when, _ := cb["when"].(string)
			matched := true
			if when != "" {
				var err error
				matched, err = ni.instance.Eval.EvalBoolean(input, when, scope, true, ni.Node.Position)
				if err != nil {
					return nil, err
				}
			}
			if matched {
				ni.state().setVar("__switchThen", cb["then"])
				return input, nil
			}
		}
	}
	for _, c := range cases {
		m, _ := c.(map[string]interface{})
		for _, caseBody := range m {
			cb, _ := caseBody.(map[string]interface{})
			if cb == nil {
				continue
			}
			if _, hasWhen := cb["when"]; !hasWhen {
				if then, ok := cb["then"]; ok {
					ni.state().setVar("__switchThen", then)
					return input, nil
				}
			}
		}
	}
	return nil, dsl.New(dsl.KindExpression, ni.Node.Position, "no matching case")
}

func (ni *NodeInstance) runRaise(input interface{}) error {
	raiseSpec, _ := ni.Node.TaskSpec["raise"].(map[string]interface{})
	if ref, ok := raiseSpec["error"].(string); ok {
		declared := ni.instance.declaredErrors[ref]
		if declared == nil {
			return dsl.Newf(dsl.KindConfiguration, ni.Node.Position, "raise references undeclared error %q", ref)
		}
		e := *declared
		e.Instance = ni.Node.Position
		return &e
	}
	if inline, ok := raiseSpec["error"].(map[string]interface{}); ok {
		e := decodeInlineError(inline, ni.Node.Position)
		return e
	}
	return dsl.New(dsl.KindConfiguration, ni.Node.Position, "raise has no error definition")
}

func decodeInlineError(m map[string]interface{}, position string) *dsl.Error {
	kind, _ := m["type"].(string)
	title, _ := m["title"].(string)
	status := 0
	if s, ok := m["status"].(float64); ok {
		status = int(s)
	}
	e := dsl.New(dsl.Kind(kind), position, title)
	if status != 0 {
		e.Status = status
	}
	if details, ok := m["details"].(map[string]interface{}); ok {
		for k, v := range details {
			e.WithDetail(k, v)
		}
	}
	return e
}
