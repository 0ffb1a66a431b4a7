package activity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

func shellNode(command string, extra map[string]interface{}) *engine.Node {
	runSpec := map[string]interface{}{"shell": map[string]interface{}{"command": command}}
	for k, v := range extra {
		runSpec[k] = v
	}
	return &engine.Node{Position: "/do/0/run", TaskSpec: map[string]interface{}{"run": runSpec}}
}

func TestRunRunner_ShellDefaultsToStdoutReturn(t *testing.T) {
	r := &runRunner{}
	node := shellNode("echo -n hello", nil)

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRunRunner_ReturnAllIncludesCodeStdoutStderr(t *testing.T) {
	r := &runRunner{}
	node := shellNode("echo -n out; echo -n err 1>&2", map[string]interface{}{"return": "all"})

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0, m["code"])
	assert.Equal(t, "out", m["stdout"])
	assert.Equal(t, "err", m["stderr"])
}

func TestRunRunner_ReturnNoneDiscardsOutput(t *testing.T) {
	r := &runRunner{}
	node := shellNode("echo -n hello", map[string]interface{}{"return": "none"})

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunRunner_NonZeroExitRaisesCommunicationError(t *testing.T) {
	r := &runRunner{}
	node := shellNode("exit 3", nil)

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindCommunication, de.Type)
}

func TestRunRunner_AwaitFalseReturnsInputImmediately(t *testing.T) {
	r := &runRunner{}
	node := shellNode("sleep 5", map[string]interface{}{"await": false})

	out, err := r.run(context.Background(), node, map[string]interface{}{"passthrough": true}, dsl.Scope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"passthrough": true}, out)
}

func TestRunRunner_UnsupportedReturnValueIsConfiguration(t *testing.T) {
	r := &runRunner{}
	node := shellNode("echo hi", map[string]interface{}{"return": "bogus"})

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindConfiguration, de.Type)
}

func TestRunRunner_MissingCommandIsConfiguration(t *testing.T) {
	r := &runRunner{}
	node := shellNode("", nil)

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindConfiguration, de.Type)
}

func TestRunRunner_ScriptLanguageSelectsInterpreter(t *testing.T) {
	r := &runRunner{}
	node := &engine.Node{Position: "/do/0/run", TaskSpec: map[string]interface{}{
		"run": map[string]interface{}{"script": map[string]interface{}{
			"language": "python3",
			"code":     "print('hi', end='')",
		}},
	}}

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	if err != nil {
		de, ok := err.(*dsl.Error)
		require.True(t, ok)
		assert.NotEqual(t, dsl.KindConfiguration, de.Type, "a configuration error here would mean python3 wasn't recognized as a supported language")
		return
	}
	assert.Equal(t, "hi", out)
}

func TestRunRunner_UnsupportedScriptLanguageIsConfiguration(t *testing.T) {
	r := &runRunner{}
	node := &engine.Node{Position: "/do/0/run", TaskSpec: map[string]interface{}{
		"run": map[string]interface{}{"script": map[string]interface{}{
			"language": "cobol",
			"code":     "DISPLAY 'HI'.",
		}},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindConfiguration, de.Type)
}
