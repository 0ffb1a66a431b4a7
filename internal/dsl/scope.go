package dsl

// Scope is the object implicitly available to every expression
// (Serverless Workflow DSL §Glossary "Scope").
type Scope struct {
	Context       interface{}
	Input         interface{}
	Output        interface{}
	Secrets       map[string]interface{}
	Authorization interface{}
	Task          interface{}
	Workflow      interface{}
	Runtime       interface{}
	// Extra carries ad-hoc bindings such as catch's errorAs or For's
	// each/at local variables; it is merged over the fixed fields above.
	Extra map[string]interface{}
}

// toMap flattens the scope into the variable map gojq binds as `$name`.
func (s Scope) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"context":       s.Context,
		"input":         s.Input,
		"output":        s.Output,
		"secrets":       s.Secrets,
		"authorization": s.Authorization,
		"task":          s.Task,
		"workflow":      s.Workflow,
		"runtime":       s.Runtime,
	}
	for k, v := range s.Extra {
		m[k] = v
	}
	return m
}

// With returns a copy of the scope with additional Extra bindings
// merged in, leaving the receiver untouched.
func (s Scope) With(extra map[string]interface{}) Scope {
	merged := make(map[string]interface{}, len(s.Extra)+len(extra))
	for k, v := range s.Extra {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	s.Extra = merged
	return s
}
