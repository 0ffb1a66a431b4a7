// Package activity implements the concrete ActivityRunner (C5): the
// handlers behind Call HTTP, Run, Wait, and the stubbed Emit/Listen
// task kinds.
package activity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lemline/lemline/internal/activity/security"
	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// Runner dispatches on the node's Kind to a concrete handler, resolving
// `endpoint`/secret/authentication references along the way.
type Runner struct {
	http *httpRunner
	run  *runRunner
	wait *waitRunner
}

// New builds a Runner with the default http.Client + SSRF guard, a
// process-spawning Run handler, and an ISO-8601-aware Wait handler.
func New(authentications map[string]interface{}) *Runner {
	client := &http.Client{Timeout: 30 * time.Second}
	guard := security.NewURLGuard()
	return &Runner{
		http: &httpRunner{client: client, guard: guard, authentications: authentications},
		run:  &runRunner{},
		wait: &waitRunner{},
	}
}

// Run implements engine.ActivityRunner.
func (r *Runner) Run(ctx context.Context, node *engine.Node, input interface{}, scope dsl.Scope) (interface{}, *time.Duration, error) {
	switch node.Kind {
	case engine.KindCallHTTP:
		out, err := r.http.run(ctx, node, input, scope)
		return out, nil, err
	case engine.KindCallGRPC, engine.KindCallOpenAPI, engine.KindCallAsyncAPI:
		return nil, nil, dsl.New(dsl.KindConfiguration, node.Position,
			fmt.Sprintf("%s is not supported by this runtime", node.Kind)).
			WithDetail("call", node.TaskSpec["call"])
	case engine.KindRun:
		out, err := r.run.run(ctx, node, input, scope)
		return out, nil, err
	case engine.KindWait:
		delay, err := r.wait.run(node)
		return input, delay, err
	case engine.KindEmit:
		return nil, nil, dsl.New(dsl.KindConfiguration, node.Position,
			"emit is not wired to an event bus in this runtime")
	case engine.KindListen:
		return nil, nil, dsl.New(dsl.KindConfiguration, node.Position,
			"listen is not wired to an event bus in this runtime")
	default:
		return nil, nil, dsl.New(dsl.KindConfiguration, node.Position,
			fmt.Sprintf("no activity runner registered for %s", node.Kind))
	}
}
