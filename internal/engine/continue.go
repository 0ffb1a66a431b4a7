package engine

import "github.com/lemline/lemline/internal/dsl"

// continueNode advances past ni, implementing `continue()` from §4.4:
// it returns the next NodeInstance to run, or nil when the workflow
// instance has completed.
func (ni *NodeInstance) continueNode() (*NodeInstance, error) {
	switch ni.Node.Kind {
	case KindRoot, KindDo:
		return ni.doContinue()
	case KindFor:
		return ni.forContinue()
	case KindTry:
		return ni.tryContinue()
	case KindSwitch:
		directive := ni.state().Vars["__switchThen"]
		return ni.resolveThen(directive)
	default:
		if then, ok := ni.Node.TaskSpec["then"]; ok {
			return ni.resolveThen(then)
		}
		return ni.parentContinue()
	}
}

func (ni *NodeInstance) parentContinue() (*NodeInstance, error) {
	if ni.Node.Parent == nil {
		return nil, nil
	}
	return ni.instance.nodeInstance(ni.Node.Parent).continueNode()
}

// doContinue implements the Do node's sequential advance: child i+1
// receives child i's output; on exhaustion, apply the Do's own `then`
// if declared, else the parent's continue.
func (ni *NodeInstance) doContinue() (*NodeInstance, error) {
	st := ni.state()
	st.ChildIndex++
	if st.ChildIndex < len(ni.Node.Children) {
		next := ni.Node.Children[st.ChildIndex]
		nextInst := ni.instance.nodeInstance(next)
		var prevOutput interface{}
		if st.ChildIndex == 0 {
			prevOutput = st.RawInput
		} else {
			prevOutput = ni.instance.stateFor(ni.Node.Children[st.ChildIndex-1].Position).RawOutput
		}
		nextState := nextInst.state()
		nextState.RawInput = prevOutput
		nextState.RawOutput = nil
		nextState.ChildIndex = -1
		return nextInst, nil
	}
	if then, ok := ni.Node.TaskSpec["then"]; ok {
		return ni.resolveThen(then)
	}
	return ni.parentContinue()
}

// forContinue implements For's iteration (§4.4): evaluate `in` once,
// bind `each`/`at`, re-check `while` between iterations, apply `then`
// when exhausted.
func (ni *NodeInstance) forContinue() (*NodeInstance, error) {
	st := ni.state()
	forSpec, _ := ni.Node.TaskSpec["for"].(map[string]interface{})

	items, ok := st.Vars["__forItems"].([]interface{})
	if !ok {
		inExpr, _ := forSpec["in"].(string)
		scope := ni.scope(st.RawInput, nil)
		list, err := ni.instance.Eval.EvalList(st.RawInput, inExpr, scope, true, ni.Node.Position)
		if err != nil {
			return nil, ni.fail(err)
		}
		items = list
		st.setVar("__forItems", items)
		st.ForIndex = 0
	}

	eachName, atName := forEachAtNames(forSpec)

	if st.ForIndex < len(items) {
		idx := st.ForIndex
		item := items[idx]
		if whileExpr, ok := forSpec["while"].(string); ok && whileExpr != "" {
			scope := ni.scope(st.RawInput, nil).With(map[string]interface{}{eachName: item, atName: idx})
			cont, err := ni.instance.Eval.EvalBoolean(st.RawInput, whileExpr, scope, true, ni.Node.Position)
			if err != nil {
				return nil, ni.fail(err)
			}
			if !cont {
				st.ForIndex = len(items)
			}
		}
	}

	if st.ForIndex >= len(items) {
		if then, ok := ni.Node.TaskSpec["then"]; ok {
			return ni.resolveThen(then)
		}
		return ni.parentContinue()
	}

	idx := st.ForIndex
	item := items[idx]
	st.ForIndex++

	body := ni.Node.ForBody
	bodyState := ni.instance.stateFor(body.Position)
	bodyState.Vars = map[string]interface{}{eachName: item, atName: idx}
	bodyState.ChildIndex = -1
	bodyState.RawOutput = nil
	bodyState.RawInput = st.RawInput

	return ni.instance.nodeInstance(body), nil
}

func forEachAtNames(forSpec map[string]interface{}) (each, at string) {
	each, at = "item", "index"
	if v, ok := forSpec["each"].(string); ok && v != "" {
		each = v
	}
	if v, ok := forSpec["at"].(string); ok && v != "" {
		at = v
	}
	return
}

// tryContinue enters the try-branch on first arrival; once the
// try-branch (or, on a caught error, the catch-branch) completes
// without raising, resolves the Try's own `then`.
func (ni *NodeInstance) tryContinue() (*NodeInstance, error) {
	st := ni.state()
	if !boolVar(st, "__tryEntered") {
		st.setVar("__tryEntered", true)
		branch := ni.Node.TryBranch
		branchState := ni.instance.stateFor(branch.Position)
		branchState.RawInput = st.RawInput
		branchState.RawOutput = nil
		if st.AttemptIndex == 0 {
			branchState.ChildIndex = -1
		}
		return ni.instance.nodeInstance(branch), nil
	}
	if then, ok := ni.Node.TaskSpec["then"]; ok {
		return ni.resolveThen(then)
	}
	return ni.parentContinue()
}

func boolVar(st *State, key string) bool {
	v, ok := st.Vars[key].(bool)
	return ok && v
}

// resolveThen implements the flow-directive table (§4.4).
func (ni *NodeInstance) resolveThen(directive interface{}) (*NodeInstance, error) {
	switch d := directive.(type) {
	case nil:
		return ni.parentContinue()
	case string:
		switch d {
		case "", "continue":
			return ni.parentContinue()
		case "exit":
			enclosingDo := ni.Node.Parent
			if enclosingDo == nil || enclosingDo.Parent == nil {
				return nil, nil
			}
			return ni.instance.nodeInstance(enclosingDo.Parent).continueNode()
		case "end":
			return nil, nil
		default:
			enclosingDo := ni.Node.Parent
			if enclosingDo == nil {
				return nil, dsl.Newf(dsl.KindConfiguration, ni.Node.Position, "then target %q has no enclosing task list", d)
			}
			for _, sib := range enclosingDo.Children {
				if sib.Name == d {
					target := ni.instance.nodeInstance(sib)
					targetState := target.state()
					targetState.RawInput = ni.state().RawOutput
					targetState.RawOutput = nil
					targetState.ChildIndex = -1
					return target, nil
				}
			}
			return nil, dsl.Newf(dsl.KindConfiguration, ni.Node.Position, "then target %q not found", d)
		}
	default:
		return ni.parentContinue()
	}
}
