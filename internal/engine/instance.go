package engine

import (
	"time"

	"github.com/lemline/lemline/internal/dsl"
)

// WorkflowException carries an error up the drive loop together with
// the Try (if any) that will handle it, per the `tryRun()`/Drive
// pseudocode (§4.7).
type WorkflowException struct {
	Err     *dsl.Error
	Raising *Node
	CaughtBy *Node // set once propagate() finds a handling Try
}

func (e *WorkflowException) Error() string { return e.Err.Error() }

// Instance is a running WorkflowInstance (§4.7): the node tree, one
// State per touched position, the current cursor, and the injected
// collaborators (C1/C2/C5) every NodeInstance needs.
type Instance struct {
	Root   *Node
	States map[string]*State

	Current *Node
	Status  Status

	WorkflowID        string
	DefinitionName    string
	DefinitionVersion string

	Eval       *dsl.Evaluator
	Schema     *dsl.SchemaValidator
	Activities ActivityRunner

	Secrets        map[string]interface{}
	declaredErrors map[string]*dsl.Error
	declaredRetries map[string]map[string]interface{}

	// pendingWait is set by a Wait activity's execute() and consumed by
	// the drive loop to compute the WAITING route.
	pendingWait *time.Duration
}

// NewInstance creates a fresh Instance rooted at root, ready to begin
// driving with the workflow's transformed input bound to child 0.
func NewInstance(root *Node, workflowID, name, version string, eval *dsl.Evaluator, schema *dsl.SchemaValidator, activities ActivityRunner, secrets map[string]interface{}, declaredErrors map[string]*dsl.Error) *Instance {
	inst := &Instance{
		Root:              root,
		States:            make(map[string]*State),
		Current:           root,
		Status:            StatusPending,
		WorkflowID:        workflowID,
		DefinitionName:    name,
		DefinitionVersion: version,
		Eval:              eval,
		Schema:            schema,
		Activities:        activities,
		Secrets:           secrets,
		declaredErrors:    declaredErrors,
	}
	now := timeNow()
	rootState := inst.stateFor(root.Position)
	rootState.WorkflowID = workflowID
	rootState.StartedAt = &now
	return inst
}

// Resume rebuilds an Instance from an envelope's decoded states,
// overlaying them onto the freshly-built tree (§4.8 step 4).
func Resume(root *Node, states map[string]*State, currentPosition string, eval *dsl.Evaluator, schema *dsl.SchemaValidator, activities ActivityRunner, secrets map[string]interface{}, declaredErrors map[string]*dsl.Error) *Instance {
	inst := &Instance{
		Root:           root,
		States:         states,
		Status:         StatusRunning,
		Eval:           eval,
		Schema:         schema,
		Activities:     activities,
		Secrets:        secrets,
		declaredErrors: declaredErrors,
	}
	if states == nil {
		inst.States = make(map[string]*State)
	}
	if root != nil {
		if rootState, ok := inst.States[root.Position]; ok {
			inst.WorkflowID = rootState.WorkflowID
		}
	}
	inst.Current = root.ByPosition(currentPosition)
	if inst.Current == nil {
		inst.Current = root
	}
	return inst
}

func (inst *Instance) stateFor(position string) *State {
	s, ok := inst.States[position]
	if !ok {
		s = NewState()
		inst.States[position] = s
	}
	return s
}

func (inst *Instance) context() interface{} {
	return inst.stateFor(inst.Root.Position).Context
}

func (inst *Instance) setContext(ctx interface{}) {
	inst.stateFor(inst.Root.Position).Context = ctx
}

// NonDefaultStates returns the subset of States whose content is worth
// persisting in an outgoing envelope (§3 Envelope).
func (inst *Instance) NonDefaultStates() map[string]*State {
	out := make(map[string]*State)
	for pos, s := range inst.States {
		if !s.IsDefault() {
			out[pos] = s
		}
	}
	return out
}

func (inst *Instance) nodeInstance(n *Node) *NodeInstance {
	return &NodeInstance{Node: n, instance: inst}
}

// SetDeclaredRetries installs the workflow's `use.retries` table, used
// to resolve a Try's `catch.retry` named reference.
func (inst *Instance) SetDeclaredRetries(m map[string]map[string]interface{}) {
	inst.declaredRetries = m
}

// PendingWait returns the delay a Wait activity computed for the
// instance's current suspension, valid only when Status == StatusWaiting.
func (inst *Instance) PendingWait() *time.Duration {
	return inst.pendingWait
}

func timeNow() time.Time {
	return time.Now().UTC()
}
