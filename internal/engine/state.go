package engine

import (
	"encoding/json"
	"time"
)

// State is the per-position, per-instance mutable state (§3 NodeState).
// Field names match the compact wire keys used by codec.Envelope so a
// State can be marshaled directly when short-key encoding is wanted.
type State struct {
	ChildIndex   int                    `json:"-"`
	AttemptIndex int                    `json:"try,omitempty"`
	Vars         map[string]interface{} `json:"var,omitempty"`
	RawInput     interface{}            `json:"inp,omitempty"`
	RawOutput    interface{}            `json:"out,omitempty"`
	Context      interface{}            `json:"ctx,omitempty"`
	WorkflowID   string                 `json:"wid,omitempty"`
	StartedAt    *time.Time             `json:"sat,omitempty"`
	ForIndex     int                    `json:"fori,omitempty"`
}

// wireState mirrors State for JSON purposes, with ChildIndex's default
// (-1) omittable even though Go's `omitempty` only omits the zero
// value 0, not -1. MarshalJSON/UnmarshalJSON below translate between
// the two so the wire envelope never carries `"i":-1` for an untouched
// node, per the Envelope's "only non-default states" rule (§3).
type wireState struct {
	ChildIndex   *int                   `json:"i,omitempty"`
	AttemptIndex int                    `json:"try,omitempty"`
	Vars         map[string]interface{} `json:"var,omitempty"`
	RawInput     interface{}            `json:"inp,omitempty"`
	RawOutput    interface{}            `json:"out,omitempty"`
	Context      interface{}            `json:"ctx,omitempty"`
	WorkflowID   string                 `json:"wid,omitempty"`
	StartedAt    *time.Time             `json:"sat,omitempty"`
	ForIndex     int                    `json:"fori,omitempty"`
}

// MarshalJSON omits ChildIndex when it is still at its -1 default.
func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		AttemptIndex: s.AttemptIndex,
		Vars:         s.Vars,
		RawInput:     s.RawInput,
		RawOutput:    s.RawOutput,
		Context:      s.Context,
		WorkflowID:   s.WorkflowID,
		StartedAt:    s.StartedAt,
		ForIndex:     s.ForIndex,
	}
	if s.ChildIndex != -1 {
		ci := s.ChildIndex
		w.ChildIndex = &ci
	}
	return json.Marshal(w)
}

// UnmarshalJSON defaults ChildIndex to -1 when the wire form omits it.
func (s *State) UnmarshalJSON(b []byte) error {
	var w wireState
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.AttemptIndex = w.AttemptIndex
	s.Vars = w.Vars
	s.RawInput = w.RawInput
	s.RawOutput = w.RawOutput
	s.Context = w.Context
	s.WorkflowID = w.WorkflowID
	s.StartedAt = w.StartedAt
	s.ForIndex = w.ForIndex
	if w.ChildIndex != nil {
		s.ChildIndex = *w.ChildIndex
	} else {
		s.ChildIndex = -1
	}
	return nil
}

// NewState returns a default State: childIndex -1, attemptIndex 0,
// forIndex 0, no output yet.
func NewState() *State {
	return &State{ChildIndex: -1, AttemptIndex: 0, ForIndex: 0}
}

// IsDefault reports whether s carries no information worth persisting
// in an envelope (§3 "a non-default state exists only where execution
// has touched the node").
func (s *State) IsDefault() bool {
	if s == nil {
		return true
	}
	return s.ChildIndex == -1 && s.AttemptIndex == 0 && s.ForIndex == 0 &&
		len(s.Vars) == 0 && s.RawInput == nil && s.RawOutput == nil &&
		s.Context == nil && s.WorkflowID == "" && s.StartedAt == nil
}

// HasOutput reports whether the node has already produced an output —
// re-entry resumes execution of a node whose output is still nil.
func (s *State) HasOutput() bool {
	return s != nil && s.RawOutput != nil
}

func (s *State) setVar(name string, value interface{}) {
	if s.Vars == nil {
		s.Vars = make(map[string]interface{})
	}
	s.Vars[name] = value
}
