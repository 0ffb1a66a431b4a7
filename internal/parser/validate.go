package parser

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/senseyeio/duration"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("iso8601duration", validateISO8601Duration)
		validate.RegisterStructValidation(retryPolicyStructLevel, RetryPolicy{})
	})
	return validate
}

func validateISO8601Duration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := duration.ParseISO8601(s)
	return err == nil
}

// RetryPolicy mirrors the DSL's `retry` object (§4.6), decoded out of a
// task's or `use.retries`' raw map for struct-level validation, the way
// serverlessworkflow-sdk-go validates its own Retry struct. Delay fields
// are left as `interface{}` because the DSL allows either an ISO-8601
// duration string or a {days|hours|minutes|seconds|milliseconds}
// object; retryPolicyStructLevel validates whichever form is present by
// running it through engine.ResolveDelay rather than a single-field tag.
type RetryPolicy struct {
	Delay   interface{} `json:"delay,omitempty"`
	Backoff struct {
		Constant    *struct{} `json:"constant,omitempty"`
		Linear      *struct{} `json:"linear,omitempty"`
		Exponential *struct {
			Delay interface{} `json:"delay,omitempty"`
		} `json:"exponential,omitempty"`
	} `json:"backoff"`
	Jitter *struct {
		From string `json:"from,omitempty" validate:"omitempty,iso8601duration"`
		To   string `json:"to,omitempty" validate:"omitempty,iso8601duration"`
	} `json:"jitter,omitempty"`
	Limit *struct {
		Attempt *struct {
			Count int `json:"count,omitempty" validate:"omitempty,min=0"`
		} `json:"attempt,omitempty"`
	} `json:"limit,omitempty"`
}

// decodeMap re-marshals a generic map into v's JSON shape — the same
// marshal/unmarshal round trip the teacher uses in
// cmd/workflow-runner/compiler/ir.go to move a `map[string]interface{}`
// config blob into a typed struct.
func decodeMap(raw map[string]interface{}, v interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func timeZero() time.Time {
	return time.Unix(0, 0).UTC()
}

// retryPolicyStructLevel rejects a jitter window whose bounds are
// present but inverted, and a `delay` (inline or backoff.exponential)
// that is neither a valid ISO-8601 duration string nor a
// {days|hours|minutes|seconds|milliseconds} object — mistakes no
// single-field tag can express.
func retryPolicyStructLevel(sl validator.StructLevel) {
	rp := sl.Current().Interface().(RetryPolicy)

	if rp.Delay != nil {
		if _, err := engine.ResolveDelay(rp.Delay); err != nil {
			sl.ReportError(reflect.ValueOf(rp.Delay), "Delay", "Delay", "retry_delay", "")
		}
	}
	if rp.Backoff.Exponential != nil && rp.Backoff.Exponential.Delay != nil {
		if _, err := engine.ResolveDelay(rp.Backoff.Exponential.Delay); err != nil {
			sl.ReportError(reflect.ValueOf(rp.Backoff.Exponential.Delay), "Backoff.Exponential.Delay", "Delay", "retry_delay", "")
		}
	}

	if rp.Jitter == nil || rp.Jitter.From == "" || rp.Jitter.To == "" {
		return
	}
	from, errFrom := duration.ParseISO8601(rp.Jitter.From)
	to, errTo := duration.ParseISO8601(rp.Jitter.To)
	if errFrom != nil || errTo != nil {
		return
	}
	ref := timeZero()
	if from.Shift(ref).After(to.Shift(ref)) {
		sl.ReportError(reflect.ValueOf(rp.Jitter.To), "Jitter.To", "To", "jitter_bounds", "")
	}
}

// DecodeRetryPolicy decodes a raw retry spec (inline task.retry or a
// `use.retries` entry) into a RetryPolicy and validates it, producing a
// CONFIGURATION dsl.Error on violation.
func DecodeRetryPolicy(raw map[string]interface{}, position string) (*RetryPolicy, error) {
	var rp RetryPolicy
	if err := decodeMap(raw, &rp); err != nil {
		return nil, dsl.New(dsl.KindConfiguration, position, "invalid retry policy").Wrap(err)
	}
	if err := getValidator().Struct(&rp); err != nil {
		return nil, dsl.New(dsl.KindConfiguration, position, "invalid retry policy").Wrap(err)
	}
	return &rp, nil
}

// Validate runs structural checks over the built tree beyond what the
// position-derivation pass already enforces: every named `use.retries`/
// `use.errors` reference a task points at must exist, every declared
// `use.retries` entry and every inline `catch.retry` must decode into a
// valid RetryPolicy, and every Raise references a declared or literal
// error. References to `use.authentications` are not checked here.
func Validate(doc *Document, root *engine.Node) error {
	for name, raw := range doc.Use.Retries {
		if _, err := DecodeRetryPolicy(raw, "/use/retries/"+name); err != nil {
			return err
		}
	}
	return walkValidate(doc, root)
}

func walkValidate(doc *Document, n *engine.Node) error {
	switch n.Kind {
	case engine.KindRaise:
		if raiseSpec, ok := n.TaskSpec["raise"].(map[string]interface{}); ok {
			if ref, ok := raiseSpec["error"].(string); ok {
				if _, declared := doc.Use.Errors[ref]; !declared {
					return dsl.Newf(dsl.KindConfiguration, n.Position, "raise references undeclared error %q", ref)
				}
			}
		}
	case engine.KindTry:
		if err := validateRetryRef(doc, n); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := walkValidate(doc, c); err != nil {
			return err
		}
	}
	if n.TryBranch != nil {
		if err := walkValidate(doc, n.TryBranch); err != nil {
			return err
		}
	}
	if n.CatchBranch != nil {
		if err := walkValidate(doc, n.CatchBranch); err != nil {
			return err
		}
	}
	if n.ForBody != nil {
		if err := walkValidate(doc, n.ForBody); err != nil {
			return err
		}
	}
	return nil
}

// validateRetryRef checks a Try's catch.retry: a named reference must
// resolve to a declared `use.retries` entry (already decoded by
// Validate), and an inline retry object must itself decode into a valid
// RetryPolicy.
func validateRetryRef(doc *Document, n *engine.Node) error {
	catch, ok := n.TaskSpec["catch"].(map[string]interface{})
	if !ok {
		return nil
	}
	if ref, ok := catch["retry"].(string); ok {
		if _, declared := doc.Use.Retries[ref]; !declared {
			return dsl.Newf(dsl.KindConfiguration, n.Position, "catch references undeclared retry policy %q", ref)
		}
		return nil
	}
	if inline, ok := catch["retry"].(map[string]interface{}); ok {
		if _, err := DecodeRetryPolicy(inline, n.Position+"/catch/retry"); err != nil {
			return err
		}
	}
	return nil
}
