package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState_DefaultsToUntouchedChildIndex(t *testing.T) {
	s := NewState()
	assert.Equal(t, -1, s.ChildIndex)
	assert.True(t, s.IsDefault())
	assert.False(t, s.HasOutput())
}

func TestState_HasOutput_TrueOnceRawOutputSet(t *testing.T) {
	s := NewState()
	s.RawOutput = map[string]interface{}{"ok": true}
	assert.True(t, s.HasOutput())
	assert.False(t, s.IsDefault())
}

func TestState_MarshalJSON_OmitsUntouchedChildIndex(t *testing.T) {
	s := NewState()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"i"`)
}

func TestState_MarshalJSON_IncludesTouchedChildIndex(t *testing.T) {
	s := NewState()
	s.ChildIndex = 2
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"i":2`)
}

func TestState_UnmarshalJSON_DefaultsChildIndexWhenAbsent(t *testing.T) {
	var s State
	require.NoError(t, json.Unmarshal([]byte(`{}`), &s))
	assert.Equal(t, -1, s.ChildIndex)
}

func TestState_SetVar_InitializesMapLazily(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.Vars)
	s.setVar("item", "widget")
	assert.Equal(t, "widget", s.Vars["item"])
}
