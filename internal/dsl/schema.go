package dsl

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator validates JSON documents against inline or
// externally-referenced JSON Schemas, caching compiled schemas by URI
// the way the expression Evaluator caches compiled programs by source.
type SchemaValidator struct {
	mu     sync.RWMutex
	byURI  map[string]*gojsonschema.Schema
	loader func(uri string) (*gojsonschema.Schema, error)
}

// NewSchemaValidator creates a SchemaValidator. fetch resolves an
// external schema $ref URI into raw schema bytes; pass nil to disable
// external refs (inline schemas only).
func NewSchemaValidator(fetch func(uri string) ([]byte, error)) *SchemaValidator {
	v := &SchemaValidator{byURI: make(map[string]*gojsonschema.Schema)}
	if fetch != nil {
		v.loader = func(uri string) (*gojsonschema.Schema, error) {
			raw, err := fetch(uri)
			if err != nil {
				return nil, err
			}
			return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		}
	}
	return v
}

// schemaRef is the DSL's `schema` object: either an inline `document`
// or an external `resource.endpoint` URI.
type schemaRef struct {
	Document interface{} `json:"document,omitempty" yaml:"document,omitempty"`
	Resource *struct {
		Endpoint string `json:"endpoint" yaml:"endpoint"`
	} `json:"resource,omitempty" yaml:"resource,omitempty"`
}

func (v *SchemaValidator) compile(uri string, document interface{}) (*gojsonschema.Schema, error) {
	if uri != "" {
		v.mu.RLock()
		cached, ok := v.byURI[uri]
		v.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	var schema *gojsonschema.Schema
	var err error
	if uri != "" {
		if v.loader == nil {
			return nil, fmt.Errorf("external schema refs are disabled, got %q", uri)
		}
		schema, err = v.loader(uri)
	} else {
		schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
	}
	if err != nil {
		return nil, err
	}

	if uri != "" {
		v.mu.Lock()
		v.byURI[uri] = schema
		v.mu.Unlock()
	}
	return schema, nil
}

// Validate checks document against ref, returning a VALIDATION dsl.Error
// whose detail "violations" lists every schema-validator failure
// message when the check fails.
func (v *SchemaValidator) Validate(document interface{}, ref schemaRef, position string) error {
	var (
		schema *gojsonschema.Schema
		err    error
	)
	if ref.Resource != nil && ref.Resource.Endpoint != "" {
		schema, err = v.compile(ref.Resource.Endpoint, nil)
	} else {
		schema, err = v.compile("", ref.Document)
	}
	if err != nil {
		return New(KindConfiguration, position, "invalid schema").Wrap(err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return New(KindValidation, position, "schema evaluation failed").Wrap(err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, re.String())
	}
	return New(KindValidation, position, "document does not satisfy its schema").
		WithDetail("violations", violations)
}

// ValidateRaw is a convenience for callers holding the schema as raw
// JSON/YAML-decoded `interface{}` rather than a typed schemaRef, e.g. the
// DSL parser validating a workflow document against the top-level
// `input.schema`/`output.schema` objects.
func (v *SchemaValidator) ValidateRaw(document interface{}, rawSchema interface{}, position string) error {
	if rawSchema == nil {
		return nil
	}
	b, err := json.Marshal(rawSchema)
	if err != nil {
		return New(KindConfiguration, position, "schema is not serializable").Wrap(err)
	}

	var ref schemaRef
	if strings.Contains(string(b), `"resource"`) || strings.Contains(string(b), `"endpoint"`) {
		if err := json.Unmarshal(b, &ref); err == nil && ref.Resource != nil {
			return v.Validate(document, ref, position)
		}
	}
	ref = schemaRef{Document: rawSchema}
	return v.Validate(document, ref, position)
}

// ClearCache drops all cached external schemas. Exposed for tests.
func (v *SchemaValidator) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byURI = make(map[string]*gojsonschema.Schema)
}
