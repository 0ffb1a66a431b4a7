package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/internal/engine"
)

func TestEncodeOmitsDefaultStates(t *testing.T) {
	root := &engine.Node{Position: "/", Kind: engine.KindSet}
	child := &engine.Node{Position: "/do/0", Kind: engine.KindSet, Parent: root}
	root.Children = []*engine.Node{child}

	inst := engine.NewInstance(root, "wf-1", "greet", "1.0.0", nil, nil, nil, nil, nil)
	env := Encode("greet", "1.0.0", inst)

	assert.Equal(t, "greet", env.Name)
	assert.Equal(t, "1.0.0", env.Version)
	// Only the root's state carries a WorkflowID/StartedAt, so it's the
	// only entry worth persisting.
	_, hasRoot := env.States[root.Position]
	assert.True(t, hasRoot)
	_, hasChild := env.States[child.Position]
	assert.False(t, hasChild)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	root := &engine.Node{Position: "/", Kind: engine.KindSet}
	inst := engine.NewInstance(root, "wf-1", "greet", "1.0.0", nil, nil, nil, nil, nil)
	env := Encode("greet", "1.0.0", inst)

	body, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, env.Name, decoded.Name)
	assert.Equal(t, env.Version, decoded.Version)
	assert.Equal(t, env.Position, decoded.Position)
}

func TestUnmarshalInvalidJSON(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}
