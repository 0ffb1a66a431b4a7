// Package parser turns DSL source text (YAML or JSON) into the
// position-addressed Node tree the engine drives.
package parser

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lemline/lemline/internal/dsl"
)

// Document is the raw DSL object model, decoded once from source text
// and walked by Build to produce the Node tree. Every task/task-item is
// kept as a raw map so node-specific config (http/run/wait/...) can be
// pulled out lazily by the kind that needs it, mirroring how the
// teacher keeps per-node `Config map[string]interface{}` rather than a
// fully-typed union.
type Document struct {
	Document struct {
		DSL     string `yaml:"dsl" json:"dsl"`
		Name    string `yaml:"name" json:"name"`
		Version string `yaml:"version" json:"version"`
	} `yaml:"document" json:"document"`

	Input struct {
		Schema interface{} `yaml:"schema,omitempty" json:"schema,omitempty"`
		From   interface{} `yaml:"from,omitempty" json:"from,omitempty"`
	} `yaml:"input,omitempty" json:"input,omitempty"`

	Output struct {
		Schema interface{} `yaml:"schema,omitempty" json:"schema,omitempty"`
		As     interface{} `yaml:"as,omitempty" json:"as,omitempty"`
	} `yaml:"output,omitempty" json:"output,omitempty"`

	Use struct {
		Secrets         []string                          `yaml:"secrets,omitempty" json:"secrets,omitempty"`
		Retries         map[string]map[string]interface{} `yaml:"retries,omitempty" json:"retries,omitempty"`
		Errors          map[string]map[string]interface{} `yaml:"errors,omitempty" json:"errors,omitempty"`
		Authentications map[string]map[string]interface{} `yaml:"authentications,omitempty" json:"authentications,omitempty"`
	} `yaml:"use,omitempty" json:"use,omitempty"`

	Do yaml.Node `yaml:"do" json:"-"`

	// doList is the decoded ordered list of single-key {name: taskSpec}
	// maps; populated by decodeDo since YAML/JSON both preserve key
	// order only as a sequence of single-entry maps, per the DSL's
	// documented task-list representation.
	doList []namedTask
}

type namedTask struct {
	Name string
	Spec map[string]interface{}
}

// ParseYAML decodes DSL source text (YAML, a superset of JSON) into a
// Document.
func ParseYAML(src []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, dsl.New(dsl.KindConfiguration, "/", "failed to parse workflow document").Wrap(err)
	}
	tasks, err := decodeDoNode(&doc.Do)
	if err != nil {
		return nil, err
	}
	doc.doList = tasks
	return &doc, nil
}

// decodeDoNode walks the raw `do` YAML sequence, preserving declaration
// order, and materializes it as an ordered slice of single-key
// {name: taskSpec} entries — the shape every DSL position rule in §4.3
// is defined against.
func decodeDoNode(n *yaml.Node) ([]namedTask, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, dsl.New(dsl.KindConfiguration, "/do", "'do' must be a sequence of named tasks")
	}
	tasks := make([]namedTask, 0, len(n.Content))
	for i, item := range n.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, dsl.Newf(dsl.KindConfiguration, "/do", "task at index %d must be a single-key mapping", i)
		}
		nameNode, specNode := item.Content[0], item.Content[1]
		var spec map[string]interface{}
		if err := specNode.Decode(&spec); err != nil {
			return nil, dsl.New(dsl.KindConfiguration, "/do", "failed to decode task spec").Wrap(err)
		}
		tasks = append(tasks, namedTask{Name: nameNode.Value, Spec: spec})
	}
	return tasks, nil
}

// ParseJSON decodes DSL source text already in canonical JSON, routing
// through the same YAML decoder since YAML 1.2 is a JSON superset.
func ParseJSON(src []byte) (*Document, error) {
	return ParseYAML(src)
}

// looksLikeJSON is used by callers that accept either a .yaml/.yml or a
// .json source file and sniff the content instead of trusting the
// extension.
func looksLikeJSON(src []byte) bool {
	t := strings.TrimSpace(string(src))
	return strings.HasPrefix(t, "{")
}

// Parse sniffs the content and dispatches to ParseYAML/ParseJSON (both
// routes converge on the same decoder; kept as two entry points for
// callers that want to assert the source format explicitly).
func Parse(src []byte) (*Document, error) {
	if looksLikeJSON(src) {
		return ParseJSON(src)
	}
	return ParseYAML(src)
}

// marshalCanonical re-serializes a decoded taskSpec map to JSON for
// schema validation and struct decoding of node-specific config.
func marshalCanonical(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
