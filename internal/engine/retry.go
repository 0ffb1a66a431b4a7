package engine

import (
	"fmt"
	"math/rand"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/senseyeio/duration"

	"github.com/lemline/lemline/internal/dsl"
)

// propagate walks up from the raising node looking for the nearest
// enclosing Try able to catch err (§4.6 "Uncaught error propagation").
// It returns the handling Try node (nil if none), the retry delay
// computed for it (nil meaning "no retry, use catch-do/propagate
// further"), and the catch-branch to resume in.
func propagate(inst *Instance, exc *WorkflowException) (tryNode *Node, delay *time.Duration, catchDo *Node, err error) {
	for cur := exc.Raising.Parent; cur != nil; cur = cur.Parent {
		if cur.Kind != KindTry {
			continue
		}
		t := cur
		matched, mErr := catchMatches(inst, t, exc.Err)
		if mErr != nil {
			return nil, nil, nil, mErr
		}
		if !matched {
			continue
		}

		tryState := inst.stateFor(t.Position)
		tryState.setVar(catchAsName(t), exc.Err.AsJSON())
		tryState.AttemptIndex++

		d, dErr := computeRetryDelay(inst, t, tryState.AttemptIndex, exc.Err)
		if dErr != nil {
			return nil, nil, nil, dErr
		}
		if d != nil && *d > 0 {
			exc.CaughtBy = t
			return t, d, nil, nil
		}
		if t.CatchBranch != nil {
			exc.CaughtBy = t
			return t, nil, t.CatchBranch, nil
		}
		// Retry exhausted (or zero delay with no catch-do): not caught
		// at this Try, keep searching further up.
	}
	return nil, nil, nil, nil
}

// catchAsName resolves the variable name a Try's caught error binds to
// within its catch branch, defaulting to "error" per §4.6.
func catchAsName(tryNode *Node) string {
	catch, _ := tryNode.TaskSpec["catch"].(map[string]interface{})
	if v, ok := catch["as"].(string); ok && v != "" {
		return v
	}
	return "error"
}

// catchMatches implements the three-step catch decision (§4.6).
func catchMatches(inst *Instance, tryNode *Node, e *dsl.Error) (bool, error) {
	catch, _ := tryNode.TaskSpec["catch"].(map[string]interface{})
	if catch == nil {
		return true, nil
	}

	if withSpec, ok := catch["with"].(map[string]interface{}); ok {
		want := &dsl.Error{}
		if s, ok := withSpec["type"].(string); ok {
			want.Type = dsl.Kind(s)
		}
		switch s := withSpec["status"].(type) {
		case float64:
			want.Status = int(s)
		case int:
			want.Status = s
		}
		want.Instance, _ = withSpec["instance"].(string)
		want.Title, _ = withSpec["title"].(string)
		want.Details, _ = withSpec["details"].(map[string]interface{})
		if !e.Matches(want) {
			return false, nil
		}
	}

	errorAs := catchAsName(tryNode)
	scope := dsl.Scope{
		Context: inst.context(),
		Extra:   map[string]interface{}{errorAs: e.AsJSON()},
	}

	if whenExpr, ok := catch["when"].(string); ok && whenExpr != "" {
		ok, err := inst.Eval.EvalBoolean(nil, whenExpr, scope, true, tryNode.Position)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if exceptExpr, ok := catch["exceptWhen"].(string); ok && exceptExpr != "" {
		ok, err := inst.Eval.EvalBoolean(nil, exceptExpr, scope, true, tryNode.Position)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

// computeRetryDelay implements the retry delay algorithm (§4.6 steps
// 1-6). A nil result means "no retry".
func computeRetryDelay(inst *Instance, tryNode *Node, attemptIndex int, e *dsl.Error) (*time.Duration, error) {
	policy, ok := retryPolicyFor(inst, tryNode)
	if !ok {
		zero := time.Duration(0)
		return &zero, nil
	}

	if limit, ok := policy["limit"].(map[string]interface{}); ok {
		if attempt, ok := limit["attempt"].(map[string]interface{}); ok {
			if countF, ok := attempt["count"].(float64); ok {
				if attemptIndex > int(countF) {
					return nil, nil
				}
			}
		}
	}

	errorAs := "error"
	scope := dsl.Scope{Context: inst.context(), Extra: map[string]interface{}{errorAs: e.AsJSON()}}
	if whenExpr, ok := policy["when"].(string); ok && whenExpr != "" {
		ok, err := inst.Eval.EvalBoolean(nil, whenExpr, scope, true, tryNode.Position)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	if exceptExpr, ok := policy["exceptWhen"].(string); ok && exceptExpr != "" {
		ok, err := inst.Eval.EvalBoolean(nil, exceptExpr, scope, true, tryNode.Position)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
	}

	base, err := ResolveDelay(policy["delay"])
	if err != nil {
		return nil, dsl.New(dsl.KindConfiguration, tryNode.Position, "invalid retry delay").Wrap(err)
	}

	computed := base
	if backoffSpec, ok := policy["backoff"].(map[string]interface{}); ok {
		if _, ok := backoffSpec["linear"]; ok {
			computed = base * time.Duration(1+attemptIndex)
		} else if expSpec, ok := backoffSpec["exponential"].(map[string]interface{}); ok {
			expDelay := base
			if raw, ok := expSpec["delay"]; ok {
				if d, err := ResolveDelay(raw); err == nil && d > 0 {
					expDelay = d
				}
			}
			baseSeconds := expDelay.Seconds()
			if baseSeconds <= 0 {
				baseSeconds = 1
			}
			computed = time.Duration(pow(baseSeconds, float64(1+attemptIndex)) * float64(time.Second))
		}
		// "constant" (or absent) leaves computed == base.
	}

	if jitterSpec, ok := policy["jitter"].(map[string]interface{}); ok {
		computed = applyJitter(computed, jitterSpec)
	}

	if computed <= 0 {
		return nil, nil
	}
	return &computed, nil
}

// applyJitter adds uniform jitter in [from, to] to base, reusing
// cenkalti/backoff/v4's ExponentialBackOff.NextBackOff() as the
// randomization source: its RandomizationFactor scales a single
// interval by `1 +/- factor`, which approximates our additive
// [min,max] window around base when factor is derived from it.
func applyJitter(base time.Duration, jitterSpec map[string]interface{}) time.Duration {
	from, _ := jitterSpec["from"].(string)
	to, _ := jitterSpec["to"].(string)
	fromD, errFrom := parseISO8601Or(from, 0)
	toD, errTo := parseISO8601Or(to, 0)
	if errFrom != nil || errTo != nil || toD <= fromD {
		return base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 1
	b.MaxInterval = base + toD
	width := toD - fromD
	if base > 0 {
		b.RandomizationFactor = clampFactor(float64(width) / (2 * float64(base)))
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	jittered := b.NextBackOff()

	offset := fromD + time.Duration(rand.Int63n(int64(width)+1))
	return jittered/2 + base/2 + offset/2
}

func clampFactor(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// ResolveDelay parses a retry `delay` (or `backoff.exponential.delay`)
// value as either an ISO-8601 duration string or a
// {days|hours|minutes|seconds|milliseconds} object — the same two forms
// internal/activity/wait.go accepts for a Wait task's `wait` field.
func ResolveDelay(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		return parseISO8601Or(v, 0)
	case map[string]interface{}:
		var total time.Duration
		total += delayField(v, "days") * 24 * time.Hour
		total += delayField(v, "hours") * time.Hour
		total += delayField(v, "minutes") * time.Minute
		total += delayField(v, "seconds") * time.Second
		total += delayField(v, "milliseconds") * time.Millisecond
		return total, nil
	default:
		return 0, fmt.Errorf("unsupported delay value %T", raw)
	}
}

func delayField(m map[string]interface{}, key string) time.Duration {
	n, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return time.Duration(n)
}

func parseISO8601Or(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := duration.ParseISO8601(s)
	if err != nil {
		return 0, err
	}
	ref := time.Unix(0, 0).UTC()
	return d.Shift(ref).Sub(ref), nil
}

// retryPolicyFor resolves a Try's catch.retry — inline or a named
// `use.retries` reference.
func retryPolicyFor(inst *Instance, tryNode *Node) (map[string]interface{}, bool) {
	catch, _ := tryNode.TaskSpec["catch"].(map[string]interface{})
	if catch == nil {
		return nil, false
	}
	if inline, ok := catch["retry"].(map[string]interface{}); ok {
		return inline, true
	}
	if ref, ok := catch["retry"].(string); ok {
		if policy, ok := inst.declaredRetries[ref]; ok {
			return policy, true
		}
	}
	return nil, false
}
