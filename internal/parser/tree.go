package parser

import (
	"strconv"
	"unicode"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// Build walks doc depth-first and assigns positions per §4.3: the
// top-level `do` list hangs directly off Root at `/do/<i>/<name>`; Try
// contributes `/try` (its try-branch) and, when present, `/catch/do`
// (its catch-branch); For contributes `/do` for its body; Fork
// contributes `/fork/branches/<i>/<name>`; Listen contributes
// `/foreach/do`; a CallAsyncAPI subscription contributes
// `/with/subscription/foreach/do`. Whenever a task's own spec nests
// another `do:` list (an anonymous Do task), the descent appends one
// more `/do` segment before resuming `<i>/<name>` enumeration.
func Build(doc *Document) (*engine.Node, error) {
	root := &engine.Node{Position: "/", Kind: engine.KindRoot, Name: doc.Document.Name}
	children, err := buildTaskList("/do", doc.doList, root)
	if err != nil {
		return nil, err
	}
	root.Children = children
	return root, nil
}

func buildTaskList(containerPos string, tasks []namedTask, parent *engine.Node) ([]*engine.Node, error) {
	out := make([]*engine.Node, 0, len(tasks))
	for i, t := range tasks {
		if err := validateName(t.Name, containerPos); err != nil {
			return nil, err
		}
		position := containerPos + "/" + strconv.Itoa(i) + "/" + t.Name
		node, err := buildTask(position, t.Name, t.Spec, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func buildTask(position, name string, spec map[string]interface{}, parent *engine.Node) (*engine.Node, error) {
	kind, err := detectKind(spec, position)
	if err != nil {
		return nil, err
	}

	node := &engine.Node{Position: position, Kind: kind, Name: name, TaskSpec: spec, Parent: parent}

	switch kind {
	case engine.KindDo:
		nested, err := extractNamedTasks(spec["do"], position)
		if err != nil {
			return nil, err
		}
		children, err := buildTaskList(position+"/do", nested, node)
		if err != nil {
			return nil, err
		}
		node.Children = children

	case engine.KindTry:
		tryRaw, _ := spec["try"]
		tryTasks, err := extractNamedTasks(tryRaw, position)
		if err != nil {
			return nil, err
		}
		tryBranch := &engine.Node{Position: position + "/try", Kind: engine.KindDo, Name: "try", Parent: node}
		tryBranch.Children, err = buildTaskList(position+"/try", tryTasks, tryBranch)
		if err != nil {
			return nil, err
		}
		node.TryBranch = tryBranch

		if catch, ok := spec["catch"].(map[string]interface{}); ok {
			if doRaw, ok := catch["do"]; ok {
				catchTasks, err := extractNamedTasks(doRaw, position)
				if err != nil {
					return nil, err
				}
				catchBranch := &engine.Node{Position: position + "/catch/do", Kind: engine.KindDo, Name: "catch", Parent: node}
				catchBranch.Children, err = buildTaskList(position+"/catch/do", catchTasks, catchBranch)
				if err != nil {
					return nil, err
				}
				node.CatchBranch = catchBranch
			}
		}

	case engine.KindFor:
		forSpec, _ := spec["for"].(map[string]interface{})
		doRaw, _ := forSpec["do"]
		forTasks, err := extractNamedTasks(doRaw, position)
		if err != nil {
			return nil, err
		}
		body := &engine.Node{Position: position + "/do", Kind: engine.KindDo, Name: name + ".do", Parent: node}
		body.Children, err = buildTaskList(position+"/do", forTasks, body)
		if err != nil {
			return nil, err
		}
		node.ForBody = body

	case engine.KindFork:
		forkSpec, _ := spec["fork"].(map[string]interface{})
		branchesRaw, _ := forkSpec["branches"]
		branchTasks, err := extractNamedTasks(branchesRaw, position)
		if err != nil {
			return nil, err
		}
		children, err := buildTaskList(position+"/fork/branches", branchTasks, node)
		if err != nil {
			return nil, err
		}
		node.Children = children

	case engine.KindListen:
		if foreach, ok := spec["foreach"].(map[string]interface{}); ok {
			doRaw, _ := foreach["do"]
			listenTasks, err := extractNamedTasks(doRaw, position)
			if err != nil {
				return nil, err
			}
			body := &engine.Node{Position: position + "/foreach/do", Kind: engine.KindDo, Name: name + ".foreach", Parent: node}
			body.Children, err = buildTaskList(position+"/foreach/do", listenTasks, body)
			if err != nil {
				return nil, err
			}
			node.ForBody = body
		}

	case engine.KindCallAsyncAPI:
		if with, ok := spec["with"].(map[string]interface{}); ok {
			if sub, ok := with["subscription"].(map[string]interface{}); ok {
				if foreach, ok := sub["foreach"].(map[string]interface{}); ok {
					doRaw, _ := foreach["do"]
					subTasks, err := extractNamedTasks(doRaw, position)
					if err != nil {
						return nil, err
					}
					subPos := position + "/with/subscription/foreach/do"
					body := &engine.Node{Position: subPos, Kind: engine.KindDo, Name: name + ".subscription", Parent: node}
					body.Children, err = buildTaskList(subPos, subTasks, body)
					if err != nil {
						return nil, err
					}
					node.ForBody = body
				}
			}
		}
	}

	return node, nil
}

// extractNamedTasks accepts a decoded `do`-shaped value — a slice of
// single-key maps, preserving declaration order — and converts it to
// namedTask entries.
func extractNamedTasks(raw interface{}, position string) ([]namedTask, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, dsl.Newf(dsl.KindConfiguration, position, "expected a list of named tasks")
	}
	out := make([]namedTask, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok || len(m) != 1 {
			return nil, dsl.Newf(dsl.KindConfiguration, position, "task at index %d must be a single-key mapping", i)
		}
		for k, v := range m {
			spec, ok := v.(map[string]interface{})
			if !ok {
				return nil, dsl.Newf(dsl.KindConfiguration, position, "task %q must be an object", k)
			}
			out = append(out, namedTask{Name: k, Spec: spec})
		}
	}
	return out, nil
}

// detectKind inspects a task spec's keys to determine its Kind, per
// the Serverless Workflow DSL's one-of task-type convention (exactly
// one of do/for/try/fork/raise/set/switch/emit/listen/run/wait/call is
// present).
func detectKind(spec map[string]interface{}, position string) (engine.Kind, error) {
	if callRaw, ok := spec["call"]; ok {
		call, _ := callRaw.(string)
		switch call {
		case "http":
			return engine.KindCallHTTP, nil
		case "grpc":
			return engine.KindCallGRPC, nil
		case "openapi":
			return engine.KindCallOpenAPI, nil
		case "asyncapi":
			return engine.KindCallAsyncAPI, nil
		default:
			return "", dsl.Newf(dsl.KindConfiguration, position, "unsupported call target %q", call)
		}
	}
	for key, kind := range map[string]engine.Kind{
		"do":     engine.KindDo,
		"for":    engine.KindFor,
		"try":    engine.KindTry,
		"fork":   engine.KindFork,
		"raise":  engine.KindRaise,
		"set":    engine.KindSet,
		"switch": engine.KindSwitch,
		"emit":   engine.KindEmit,
		"listen": engine.KindListen,
		"run":    engine.KindRun,
		"wait":   engine.KindWait,
	} {
		if _, ok := spec[key]; ok {
			return kind, nil
		}
	}
	return "", dsl.New(dsl.KindConfiguration, position, "task spec does not declare a recognized task type")
}

// validateName rejects names containing `/`, purely numeric names, and
// reserved DSL structural tokens (§4.3).
func validateName(name, position string) error {
	if name == "" {
		return dsl.New(dsl.KindConfiguration, position, "task name must not be empty")
	}
	for _, r := range name {
		if r == '/' {
			return dsl.Newf(dsl.KindConfiguration, position, "task name %q must not contain '/'", name)
		}
	}
	if isNumeric(name) {
		return dsl.Newf(dsl.KindConfiguration, position, "task name %q must not be purely numeric", name)
	}
	if reservedTaskNames[name] {
		return dsl.Newf(dsl.KindConfiguration, position, "task name %q is a reserved DSL token", name)
	}
	return nil
}

var reservedTaskNames = map[string]bool{
	"do": true, "try": true, "catch": true, "for": true, "fork": true,
	"branches": true, "foreach": true, "with": true, "subscription": true,
	"call": true, "raise": true, "set": true, "switch": true, "emit": true,
	"listen": true, "run": true, "wait": true,
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
