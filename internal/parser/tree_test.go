package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/internal/engine"
)

func TestBuild_AssignsSlashPositionsToTopLevelTasks(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: greet
do:
  - step1:
      set:
        x: 1
  - step2:
      set:
        y: 2
`))
	require.NoError(t, err)

	root, err := Build(doc)
	require.NoError(t, err)

	require.Len(t, root.Children, 2)
	assert.Equal(t, "/do/0/step1", root.Children[0].Position)
	assert.Equal(t, "/do/1/step2", root.Children[1].Position)
	assert.Equal(t, engine.KindSet, root.Children[0].Kind)
}

func TestBuild_NestedTryCatchBranches(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: withTry
do:
  - attempt:
      try:
        - inner:
            set:
              ok: true
      catch:
        do:
          - recover:
              set:
                ok: false
`))
	require.NoError(t, err)

	root, err := Build(doc)
	require.NoError(t, err)

	tryNode := root.Children[0]
	assert.Equal(t, engine.KindTry, tryNode.Kind)
	require.NotNil(t, tryNode.TryBranch)
	require.Len(t, tryNode.TryBranch.Children, 1)
	assert.Equal(t, "/do/0/attempt/try/0/inner", tryNode.TryBranch.Children[0].Position)

	require.NotNil(t, tryNode.CatchBranch)
	require.Len(t, tryNode.CatchBranch.Children, 1)
	assert.Equal(t, "/do/0/attempt/catch/do/0/recover", tryNode.CatchBranch.Children[0].Position)
}

func TestBuild_ForkBranchesGetFlatPositions(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: withFork
do:
  - split:
      fork:
        branches:
          - left:
              set:
                a: 1
          - right:
              set:
                b: 2
`))
	require.NoError(t, err)

	root, err := Build(doc)
	require.NoError(t, err)

	fork := root.Children[0]
	assert.Equal(t, engine.KindFork, fork.Kind)
	require.Len(t, fork.Children, 2)
	assert.Equal(t, "/do/0/split/fork/branches/0/left", fork.Children[0].Position)
	assert.Equal(t, "/do/0/split/fork/branches/1/right", fork.Children[1].Position)
}

func TestBuild_CallHTTPDetectsKindFromCallTarget(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: withCall
do:
  - fetch:
      call: http
      with:
        endpoint: https://example.com
        method: GET
`))
	require.NoError(t, err)

	root, err := Build(doc)
	require.NoError(t, err)
	assert.Equal(t, engine.KindCallHTTP, root.Children[0].Kind)
}

func TestBuild_UnsupportedCallTargetErrors(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
do:
  - fetch:
      call: carrier-pigeon
`))
	require.NoError(t, err)
	_, err = Build(doc)
	assert.Error(t, err)
}

func TestValidateName_RejectsSlashNumericAndReserved(t *testing.T) {
	assert.Error(t, validateName("has/slash", "/do"))
	assert.Error(t, validateName("123", "/do"))
	assert.Error(t, validateName("try", "/do"))
	assert.Error(t, validateName("", "/do"))
	assert.NoError(t, validateName("sayHello", "/do"))
}

func TestBuild_RejectsReservedTaskName(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
do:
  - try:
      set:
        x: 1
`))
	require.NoError(t, err)
	_, err = Build(doc)
	assert.Error(t, err)
}
