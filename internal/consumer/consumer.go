// Package consumer implements the Consumer (C8): the per-message
// procedure that turns one inbound envelope into zero or one outbound
// effects (a broker emit, a retry-outbox row, or a wait-outbox row).
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/queue"
	"github.com/lemline/lemline/internal/codec"
	"github.com/lemline/lemline/internal/definition"
	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
	"github.com/lemline/lemline/internal/outbox"
	"github.com/lemline/lemline/internal/secretstore"
)

// Consumer wires the definition cache, secret store, activity runner,
// and the two outbox repositories around the engine's Drive loop.
type Consumer struct {
	Definitions  *definition.Cache
	Secrets      secretstore.Store
	Activities   engine.ActivityRunner
	Eval         *dsl.Evaluator
	Schema       *dsl.SchemaValidator
	Broker       queue.Queue
	OutTopic     string
	RetryOutbox  outbox.Repository
	WaitOutbox   outbox.Repository
	Log          *logger.Logger
}

// HandleMessage implements the Consumer's 7-step procedure (§4.8).
// Decode, definition, secret and drive failures end as a FAILED
// retry-outbox row per the "failed-row policy"; the errors it returns
// come from writing to an outbox or publishing to the broker.
func (c *Consumer) HandleMessage(ctx context.Context, raw []byte) error {
	env, err := codec.Unmarshal(raw)
	if err != nil {
		return c.failRow(ctx, string(raw), err)
	}

	def, err := c.Definitions.Get(env.Name, env.Version)
	if err != nil {
		return c.failRow(ctx, string(raw), err)
	}

	secrets, err := c.Secrets.Resolve(ctx, def.Secrets)
	if err != nil {
		return c.failRow(ctx, string(raw), err)
	}

	inst := engine.Resume(def.Root, env.States, env.Position, c.Eval, c.Schema, c.Activities, secrets, def.DeclaredErrors)
	inst.SetDeclaredRetries(def.DeclaredRetries)

	pendingRetry, faultErr, err := inst.Drive(ctx)
	if err != nil {
		return c.failRow(ctx, string(raw), err)
	}

	return c.route(ctx, env, inst, pendingRetry, faultErr)
}

// route implements the post-run table verbatim (§4.7).
func (c *Consumer) route(ctx context.Context, env *codec.Envelope, inst *engine.Instance, pendingRetry *engine.PendingRetry, faultErr *dsl.Error) error {
	switch {
	case faultErr != nil:
		out := codec.Encode(env.Name, env.Version, inst)
		body, err := codec.Marshal(out)
		if err != nil {
			return c.failRow(ctx, "", err)
		}
		row, err := c.RetryOutbox.Insert(ctx, string(body), time.Now())
		if err != nil {
			return err
		}
		// maxAttempts=0 makes this first MarkRetry call transition the
		// row straight to FAILED, matching "store current envelope to
		// retry-outbox with status=FAILED" for an uncaught fault.
		return c.RetryOutbox.MarkRetry(ctx, row.ID, time.Now(), faultErr.Error(), 0)

	case pendingRetry != nil:
		out := codec.Encode(env.Name, env.Version, inst)
		body, err := codec.Marshal(out)
		if err != nil {
			return err
		}
		_, err = c.RetryOutbox.Insert(ctx, string(body), time.Now().Add(pendingRetry.Delay))
		return err

	case inst.Status == engine.StatusWaiting:
		out := codec.Encode(env.Name, env.Version, inst)
		body, err := codec.Marshal(out)
		if err != nil {
			return err
		}
		delay := time.Duration(0)
		if d := inst.PendingWait(); d != nil {
			delay = *d
		}
		_, err = c.WaitOutbox.Insert(ctx, string(body), time.Now().Add(delay))
		return err

	case inst.Status == engine.StatusCompleted:
		return nil

	default: // RUNNING: drive reached a suspension point other than WAITING/fault
		out := codec.Encode(env.Name, env.Version, inst)
		body, err := codec.Marshal(out)
		if err != nil {
			return err
		}
		return c.Broker.Publish(ctx, c.OutTopic, env.Name, body)
	}
}

// failRow records an unrecoverable per-message failure (decode,
// definition lookup, secret resolution, or drive error) as a FAILED
// retry-outbox row carrying the cause, the same terminal disposition
// `route`'s fault branch gives an uncaught workflow fault. Inserting
// PENDING and stopping there would leave a claimable row with no
// recorded error for the outbox processor to blindly emit.
func (c *Consumer) failRow(ctx context.Context, raw string, cause error) error {
	c.Log.Error("consumer failed row", "error", cause)
	if raw == "" {
		raw = fmt.Sprintf(`{"error":%q}`, cause.Error())
	}
	row, err := c.RetryOutbox.Insert(ctx, raw, time.Now())
	if err != nil {
		return err
	}
	return c.RetryOutbox.MarkRetry(ctx, row.ID, time.Now(), cause.Error(), 0)
}

// Start subscribes to the inbound topic and drives HandleMessage for
// every message. An error from HandleMessage (an outbox or broker
// failure) is handed back to the Queue backend's Subscribe loop, which
// decides what happens to the message; no backend applies a retry
// backoff.
func (c *Consumer) Start(ctx context.Context, inboundTopic string) error {
	return c.Broker.Subscribe(ctx, inboundTopic, func(ctx context.Context, key string, value []byte) error {
		return c.HandleMessage(ctx, value)
	})
}
