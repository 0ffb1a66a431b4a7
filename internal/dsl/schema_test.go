package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineSchema(properties map[string]interface{}, required []string) schemaRef {
	return schemaRef{Document: map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}}
}

func TestSchemaValidator_ValidatesInlineDocument(t *testing.T) {
	v := NewSchemaValidator(nil)
	ref := inlineSchema(map[string]interface{}{"name": map[string]interface{}{"type": "string"}}, []string{"name"})

	err := v.Validate(map[string]interface{}{"name": "ada"}, ref, "/do/0")
	assert.NoError(t, err)
}

func TestSchemaValidator_ReportsViolationsAsValidationError(t *testing.T) {
	v := NewSchemaValidator(nil)
	ref := inlineSchema(map[string]interface{}{"name": map[string]interface{}{"type": "string"}}, []string{"name"})

	err := v.Validate(map[string]interface{}{}, ref, "/do/0")
	require.Error(t, err)
	de, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindValidation, de.Type)
	violations, ok := de.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestSchemaValidator_ExternalRefDisabledWithoutFetcher(t *testing.T) {
	v := NewSchemaValidator(nil)
	ref := schemaRef{Resource: &struct {
		Endpoint string `json:"endpoint" yaml:"endpoint"`
	}{Endpoint: "https://example.com/schemas/task.json"}}

	err := v.Validate(map[string]interface{}{}, ref, "/do/0")
	require.Error(t, err)
	de, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindConfiguration, de.Type)
}

func TestSchemaValidator_CachesExternalSchemaByURI(t *testing.T) {
	calls := 0
	fetch := func(uri string) ([]byte, error) {
		calls++
		return []byte(`{"type":"object"}`), nil
	}
	v := NewSchemaValidator(fetch)
	ref := schemaRef{Resource: &struct {
		Endpoint string `json:"endpoint" yaml:"endpoint"`
	}{Endpoint: "https://example.com/schemas/task.json"}}

	require.NoError(t, v.Validate(map[string]interface{}{}, ref, "/do/0"))
	require.NoError(t, v.Validate(map[string]interface{}{}, ref, "/do/0"))
	assert.Equal(t, 1, calls)

	v.ClearCache()
	require.NoError(t, v.Validate(map[string]interface{}{}, ref, "/do/0"))
	assert.Equal(t, 2, calls)
}

func TestValidateRaw_NilSchemaIsNoop(t *testing.T) {
	v := NewSchemaValidator(nil)
	assert.NoError(t, v.ValidateRaw(map[string]interface{}{"anything": true}, nil, "/do/0"))
}

func TestValidateRaw_PlainDocumentSchema(t *testing.T) {
	v := NewSchemaValidator(nil)
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"id"},
	}
	assert.Error(t, v.ValidateRaw(map[string]interface{}{}, schema, "/do/0"))
	assert.NoError(t, v.ValidateRaw(map[string]interface{}{"id": "x"}, schema, "/do/0"))
}
