package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRetryPolicy_AcceptsValidISO8601Delays(t *testing.T) {
	raw := map[string]interface{}{
		"delay": "PT5S",
		"limit": map[string]interface{}{"attempt": map[string]interface{}{"count": 3}},
	}
	rp, err := DecodeRetryPolicy(raw, "/do/0")
	require.NoError(t, err)
	assert.Equal(t, "PT5S", rp.Delay)
	assert.Equal(t, 3, rp.Limit.Attempt.Count)
}

func TestDecodeRetryPolicy_AcceptsObjectFormDelay(t *testing.T) {
	raw := map[string]interface{}{"delay": map[string]interface{}{"seconds": float64(1)}}
	rp, err := DecodeRetryPolicy(raw, "/do/0")
	require.NoError(t, err)
	assert.NotNil(t, rp.Delay)
}

func TestDecodeRetryPolicy_RejectsMalformedDuration(t *testing.T) {
	raw := map[string]interface{}{"delay": "not-a-duration"}
	_, err := DecodeRetryPolicy(raw, "/do/0")
	assert.Error(t, err)
}

func TestDecodeRetryPolicy_RejectsInvertedJitterWindow(t *testing.T) {
	raw := map[string]interface{}{
		"jitter": map[string]interface{}{"from": "PT10S", "to": "PT2S"},
	}
	_, err := DecodeRetryPolicy(raw, "/do/0")
	assert.Error(t, err)
}

func TestDecodeRetryPolicy_AllowsOrderedJitterWindow(t *testing.T) {
	raw := map[string]interface{}{
		"jitter": map[string]interface{}{"from": "PT1S", "to": "PT5S"},
	}
	_, err := DecodeRetryPolicy(raw, "/do/0")
	assert.NoError(t, err)
}

func TestValidate_RejectsRaiseOfUndeclaredError(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
do:
  - fail:
      raise:
        error: notDeclared
`))
	require.NoError(t, err)
	root, err := Build(doc)
	require.NoError(t, err)

	assert.Error(t, Validate(doc, root))
}

func TestValidate_AllowsRaiseOfDeclaredError(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: ok
use:
  errors:
    timeout:
      type: timeout
do:
  - fail:
      raise:
        error: timeout
`))
	require.NoError(t, err)
	root, err := Build(doc)
	require.NoError(t, err)

	assert.NoError(t, Validate(doc, root))
}

func TestValidate_RejectsMalformedInlineRetryDelay(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
do:
  - attempt:
      try:
        - inner:
            set:
              x: 1
      catch:
        retry:
          delay: not-a-duration
        do: []
`))
	require.NoError(t, err)
	root, err := Build(doc)
	require.NoError(t, err)

	assert.Error(t, Validate(doc, root))
}

func TestValidate_RejectsMalformedDeclaredRetryPolicy(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
use:
  retries:
    flaky:
      delay: not-a-duration
do:
  - attempt:
      try:
        - inner:
            set:
              x: 1
      catch:
        retry: flaky
        do: []
`))
	require.NoError(t, err)
	root, err := Build(doc)
	require.NoError(t, err)

	assert.Error(t, Validate(doc, root))
}

func TestValidate_RejectsUndeclaredRetryReference(t *testing.T) {
	doc, err := ParseYAML([]byte(`
document:
  name: bad
do:
  - attempt:
      try:
        - inner:
            set:
              x: 1
      catch:
        retry: missingPolicy
        do: []
`))
	require.NoError(t, err)
	root, err := Build(doc)
	require.NoError(t, err)

	assert.Error(t, Validate(doc, root))
}
