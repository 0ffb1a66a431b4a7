package activity

import (
	"fmt"
	"time"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
	"github.com/senseyeio/duration"
)

// waitRunner resolves a Wait task's `wait` field, either an ISO-8601
// duration string or a `{days|hours|minutes|seconds|milliseconds}`
// object, into the delay the drive loop should suspend for.
type waitRunner struct{}

var waitReferenceTime = time.Unix(0, 0).UTC()

func (r *waitRunner) run(node *engine.Node) (*time.Duration, error) {
	raw, ok := node.TaskSpec["wait"]
	if !ok {
		return nil, dsl.New(dsl.KindConfiguration, node.Position, "wait requires a `wait` field")
	}

	switch v := raw.(type) {
	case string:
		d, err := duration.ParseISO8601(v)
		if err != nil {
			return nil, dsl.New(dsl.KindConfiguration, node.Position, "invalid ISO-8601 duration").Wrap(err)
		}
		delay := d.Shift(waitReferenceTime).Sub(waitReferenceTime)
		return &delay, nil
	case map[string]interface{}:
		var total time.Duration
		total += durationField(v, "days") * 24 * time.Hour
		total += durationField(v, "hours") * time.Hour
		total += durationField(v, "minutes") * time.Minute
		total += durationField(v, "seconds") * time.Second
		total += durationField(v, "milliseconds") * time.Millisecond
		return &total, nil
	default:
		return nil, dsl.New(dsl.KindConfiguration, node.Position, fmt.Sprintf("unsupported wait value %T", raw))
	}
}

func durationField(m map[string]interface{}, key string) time.Duration {
	n, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return time.Duration(n)
}
