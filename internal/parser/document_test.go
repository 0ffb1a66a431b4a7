package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
document:
  dsl: '1.0.0'
  name: greet
  version: '1.0.0'
use:
  secrets:
    - apiToken
do:
  - sayHello:
      set:
        message: "${ \"hello \" + .name }"
  - sayBye:
      set:
        message: bye
`

func TestParseYAML_DecodesDocumentAndOrderedTaskList(t *testing.T) {
	doc, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "greet", doc.Document.Name)
	assert.Equal(t, []string{"apiToken"}, doc.Use.Secrets)
	require.Len(t, doc.doList, 2)
	assert.Equal(t, "sayHello", doc.doList[0].Name)
	assert.Equal(t, "sayBye", doc.doList[1].Name)
}

func TestParseYAML_RejectsNonSequenceDo(t *testing.T) {
	_, err := ParseYAML([]byte("document:\n  name: bad\ndo:\n  notASequence: true\n"))
	assert.Error(t, err)
}

func TestParseYAML_RejectsMultiKeyTaskEntry(t *testing.T) {
	src := `
document:
  name: bad
do:
  - first:
      set: {}
    second:
      set: {}
`
	_, err := ParseYAML([]byte(src))
	assert.Error(t, err)
}

func TestParse_SniffsJSONContent(t *testing.T) {
	doc, err := Parse([]byte(`{"document":{"name":"j"},"do":[{"step":{"set":{"x":1}}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "j", doc.Document.Name)
	require.Len(t, doc.doList, 1)
	assert.Equal(t, "step", doc.doList[0].Name)
}

func TestParse_EmptyDoIsAllowed(t *testing.T) {
	doc, err := Parse([]byte(`{"document":{"name":"empty"}}`))
	require.NoError(t, err)
	assert.Empty(t, doc.doList)
}
