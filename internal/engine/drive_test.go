package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/internal/dsl"
)

func newInst(root *Node) *Instance {
	return NewInstance(root, "wf-1", "test", "1.0.0", dsl.NewEvaluator(), dsl.NewSchemaValidator(nil), nil, nil, nil)
}

func TestDrive_RunsSequentialSetTasksToCompletion(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	step1 := &Node{Position: "/do/0/step1", Kind: KindSet, Name: "step1", Parent: root,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"greeting": "${ \"hi \" + .name }"}}}
	step2 := &Node{Position: "/do/1/step2", Kind: KindSet, Name: "step2", Parent: root,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"loud": "${ .greeting + \"!\" }"}}}
	root.Children = []*Node{step1, step2}

	inst := newInst(root)
	inst.stateFor(root.Position).RawInput = map[string]interface{}{"name": "ada"}

	retry, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	step2Out := inst.stateFor(step2.Position).RawOutput
	m, ok := step2Out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi ada!", m["loud"])
}

func TestDrive_SwitchSelectsMatchingCaseAndJumpsTarget(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	decide := &Node{Position: "/do/0/decide", Kind: KindSwitch, Name: "decide", Parent: root,
		TaskSpec: map[string]interface{}{"switch": []interface{}{
			map[string]interface{}{"big": map[string]interface{}{"when": "${ .n > 10 }", "then": "high"}},
			map[string]interface{}{"small": map[string]interface{}{"then": "low"}},
		}}}
	high := &Node{Position: "/do/1/high", Kind: KindSet, Name: "high", Parent: root,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"bucket": "high"}, "then": "exit"}}
	low := &Node{Position: "/do/2/low", Kind: KindSet, Name: "low", Parent: root,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"bucket": "low"}}}
	root.Children = []*Node{decide, high, low}

	inst := newInst(root)
	inst.stateFor(root.Position).RawInput = map[string]interface{}{"n": 20}

	_, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	out := inst.stateFor(high.Position).RawOutput
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "high", m["bucket"])

	assert.False(t, inst.stateFor(low.Position).HasOutput(), "low branch must not run once high matched and exited")
}

func TestDrive_RaiseCaughtByEnclosingTryRunsCatchBranch(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	attempt := &Node{Position: "/do/0/attempt", Kind: KindTry, Name: "attempt", Parent: root,
		TaskSpec: map[string]interface{}{"catch": map[string]interface{}{"as": "err"}}}
	root.Children = []*Node{attempt}

	tryBranch := &Node{Position: "/do/0/attempt/try", Kind: KindDo, Name: "try", Parent: attempt}
	inner := &Node{Position: "/do/0/attempt/try/0/inner", Kind: KindRaise, Name: "inner", Parent: tryBranch,
		TaskSpec: map[string]interface{}{"raise": map[string]interface{}{"error": "boom"}}}
	tryBranch.Children = []*Node{inner}
	attempt.TryBranch = tryBranch

	catchBranch := &Node{Position: "/do/0/attempt/catch/do", Kind: KindDo, Name: "catch", Parent: attempt}
	recover := &Node{Position: "/do/0/attempt/catch/do/0/recover", Kind: KindSet, Name: "recover", Parent: catchBranch,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"recovered": true}}}
	catchBranch.Children = []*Node{recover}
	attempt.CatchBranch = catchBranch

	inst := newInst(root)
	inst.declaredErrors = map[string]*dsl.Error{"boom": dsl.New(dsl.KindRuntime, "", "boom")}
	inst.stateFor(root.Position).RawInput = map[string]interface{}{}

	_, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	out := inst.stateFor(recover.Position).RawOutput
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, m["recovered"])
}

func TestDrive_CatchBranchSeesBoundErrorVariable(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	attempt := &Node{Position: "/do/0/attempt", Kind: KindTry, Name: "attempt", Parent: root,
		TaskSpec: map[string]interface{}{"catch": map[string]interface{}{"as": "err"}}}
	root.Children = []*Node{attempt}

	tryBranch := &Node{Position: "/do/0/attempt/try", Kind: KindDo, Name: "try", Parent: attempt}
	inner := &Node{Position: "/do/0/attempt/try/0/inner", Kind: KindRaise, Name: "inner", Parent: tryBranch,
		TaskSpec: map[string]interface{}{"raise": map[string]interface{}{"error": "boom"}}}
	tryBranch.Children = []*Node{inner}
	attempt.TryBranch = tryBranch

	catchBranch := &Node{Position: "/do/0/attempt/catch/do", Kind: KindDo, Name: "catch", Parent: attempt}
	recordTitle := &Node{Position: "/do/0/attempt/catch/do/0/record", Kind: KindSet, Name: "record", Parent: catchBranch,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"title": "${ $err.title }"}}}
	catchBranch.Children = []*Node{recordTitle}
	attempt.CatchBranch = catchBranch

	inst := newInst(root)
	inst.declaredErrors = map[string]*dsl.Error{"boom": dsl.New(dsl.KindRuntime, "", "boom")}
	inst.stateFor(root.Position).RawInput = map[string]interface{}{}

	_, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	out := inst.stateFor(recordTitle.Position).RawOutput
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "boom", m["title"], "$err must be bound inside the catch branch's own tasks, not just at the Try node")
}

func TestDrive_ForLoopBindsEachAndAtToBodyTasks(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	loop := &Node{Position: "/do/0/loop", Kind: KindFor, Name: "loop", Parent: root,
		TaskSpec: map[string]interface{}{"for": map[string]interface{}{"in": "${ [10, 20, 30] }"}}}
	root.Children = []*Node{loop}

	body := &Node{Position: "/do/0/loop/do", Kind: KindDo, Name: "loop.do", Parent: loop}
	tally := &Node{Position: "/do/0/loop/do/0/tally", Kind: KindSet, Name: "tally", Parent: body,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"seen": "${ $item + $index }"}}}
	body.Children = []*Node{tally}
	loop.ForBody = body

	inst := newInst(root)
	inst.stateFor(root.Position).RawInput = map[string]interface{}{}

	_, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	// Each iteration reuses the body's node positions, so only the
	// last iteration's output (item=30, index=2) survives in state.
	out := inst.stateFor(tally.Position).RawOutput
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 32, m["seen"])
}

func TestDrive_ForLoopWhileStopsEarly(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	loop := &Node{Position: "/do/0/loop", Kind: KindFor, Name: "loop", Parent: root,
		TaskSpec: map[string]interface{}{"for": map[string]interface{}{
			"in":    "${ [1, 2, 3, 4] }",
			"while": "${ $item < 3 }",
		}}}
	root.Children = []*Node{loop}

	body := &Node{Position: "/do/0/loop/do", Kind: KindDo, Name: "loop.do", Parent: loop}
	tally := &Node{Position: "/do/0/loop/do/0/tally", Kind: KindSet, Name: "tally", Parent: body,
		TaskSpec: map[string]interface{}{"set": map[string]interface{}{"last": "${ $item }"}}}
	body.Children = []*Node{tally}
	loop.ForBody = body

	inst := newInst(root)
	inst.stateFor(root.Position).RawInput = map[string]interface{}{}

	_, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, StatusCompleted, inst.Status)

	out := inst.stateFor(tally.Position).RawOutput
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2, m["last"], "while is re-checked before the 3rd item (value 3) and should stop the loop")
}

func TestDrive_UncaughtRaiseFaultsTheInstance(t *testing.T) {
	root := &Node{Position: "/", Kind: KindRoot}
	inner := &Node{Position: "/do/0/inner", Kind: KindRaise, Name: "inner", Parent: root,
		TaskSpec: map[string]interface{}{"raise": map[string]interface{}{"error": "boom"}}}
	root.Children = []*Node{inner}

	inst := newInst(root)
	inst.declaredErrors = map[string]*dsl.Error{"boom": dsl.New(dsl.KindRuntime, "", "boom")}
	inst.stateFor(root.Position).RawInput = map[string]interface{}{}

	retry, fault, err := inst.Drive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, retry)
	require.NotNil(t, fault)
	assert.Equal(t, StatusFaulted, inst.Status)
}
