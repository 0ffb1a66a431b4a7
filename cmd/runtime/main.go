// Command runtime is the consumer process (C8): it drains the inbound
// topic, drives workflow instances through to their next suspension
// point, and schedules due retry/wait outbox rows back onto that same
// topic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/lemline/lemline/common/bootstrap"
	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/db"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/internal/activity"
	"github.com/lemline/lemline/internal/consumer"
	"github.com/lemline/lemline/internal/definition"
	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/outbox"
	"github.com/lemline/lemline/internal/secretstore"
	"github.com/lemline/lemline/internal/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "runtime", bootstrap.WithoutDB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger
	cfg := components.Config
	log.Info("runtime starting", "driver", cfg.Database.Driver, "queue", cfg.Queue.Type)

	retryRepo, waitRepo, defRepo, pingDB, err := openPersistence(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open persistence layer", "error", err)
		os.Exit(1)
	}

	definitions := definition.NewCache(definition.RepositoryLoader{Repo: defRepo, Ctx: ctx}.Load)

	var secrets secretstore.Store
	var redisClient *redis.Client
	if cfg.Secrets.Backend == "redis" || cfg.Features.EnableDistributedCache {
		redisClient = newRedisClient(cfg)
	}
	switch cfg.Secrets.Backend {
	case "redis":
		secrets = secretstore.NewRedisStore(redisClient, cfg.Secrets.HashName)
	default:
		secrets = secretstore.NewStaticStore(loadStaticSecrets())
	}
	if cfg.Features.EnableDistributedCache {
		definitions = definitions.WithDistributedLock(definition.NewDistributedLock(redisClient, cfg.Redis.LockTTL))
	}

	c := &consumer.Consumer{
		Definitions: definitions,
		Secrets:     secrets,
		Activities:  activity.New(map[string]interface{}{}),
		Eval:        dsl.NewEvaluator(),
		Schema:      dsl.NewSchemaValidator(nil),
		Broker:      components.Queue,
		OutTopic:    cfg.Queue.OutboundTopic,
		RetryOutbox: retryRepo,
		WaitOutbox:  waitRepo,
		Log:         log,
	}

	retryProcessor := outbox.NewProcessor(retryRepo, components.Queue, outbox.Config{
		Topic:           cfg.Queue.InboundTopic,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		InitialDelay:    cfg.Outbox.InitialDelay,
		CleanupAfter:    cfg.Outbox.CleanupAfter,
		ProcessSchedule: cfg.Outbox.ProcessSchedule,
		CleanupSchedule: cfg.Outbox.CleanupSchedule,
	}, log)

	waitProcessor := outbox.NewProcessor(waitRepo, components.Queue, outbox.Config{
		Topic:           cfg.Queue.InboundTopic,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		InitialDelay:    cfg.Outbox.InitialDelay,
		CleanupAfter:    cfg.Outbox.CleanupAfter,
		ProcessSchedule: cfg.Outbox.ProcessSchedule,
		CleanupSchedule: cfg.Outbox.CleanupSchedule,
	}, log)

	admin := server.New(cfg.Service.Port, log, map[string]server.PingFunc{
		"database": pingDB,
		"broker": func(context.Context) error {
			return nil
		},
	})

	errChan := make(chan error, 4)

	go func() {
		log.Info("starting consumer")
		if err := c.Start(ctx, cfg.Queue.InboundTopic); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	go func() {
		log.Info("starting retry outbox processor")
		if err := retryProcessor.Start(ctx); err != nil {
			errChan <- fmt.Errorf("retry outbox processor error: %w", err)
		}
	}()

	go func() {
		log.Info("starting wait outbox processor")
		if err := waitProcessor.Start(ctx); err != nil {
			errChan <- fmt.Errorf("wait outbox processor error: %w", err)
		}
	}()

	go func() {
		log.Info("starting admin server")
		if err := admin.Start(ctx); err != nil {
			errChan <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	log.Info("runtime started successfully",
		"components", []string{"consumer", "retry_outbox", "wait_outbox", "admin_server"})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("component failed", "error", err)
		retryProcessor.Stop()
		waitProcessor.Stop()
		os.Exit(1)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	retryProcessor.Stop()
	waitProcessor.Stop()
	log.Info("runtime shutting down gracefully")
}

// openPersistence opens the configured driver's connection and wires
// the matching outbox/definition repository implementations, since
// bootstrap.Components' DB field is Postgres-shaped and this process
// needs a driver-conditional choice instead.
func openPersistence(ctx context.Context, cfg *config.Config, log *logger.Logger) (
	retry outbox.Repository, wait outbox.Repository, defs definition.Repository, ping server.PingFunc, err error,
) {
	switch cfg.Database.Driver {
	case "mysql":
		conn, err := db.OpenMySQL(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return outbox.NewMySQLRepository(conn, "retry_outbox"),
			outbox.NewMySQLRepository(conn, "wait_outbox"),
			definition.NewMySQLRepository(conn),
			func(ctx context.Context) error { return conn.PingContext(ctx) },
			nil
	default:
		pool, err := db.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return outbox.NewPostgresRepository(pool.Pool, "retry_outbox"),
			outbox.NewPostgresRepository(pool.Pool, "wait_outbox"),
			definition.NewPostgresRepository(pool.Pool),
			func(ctx context.Context) error { return pool.Health(ctx) },
			nil
	}
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// loadStaticSecrets reads declared secret values from the environment,
// one SECRET_<NAME> variable per secret, for single-node deployments
// that have not configured the Redis-backed store.
func loadStaticSecrets() map[string]string {
	values := make(map[string]string)
	const prefix = "SECRET_"
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key, val := kv[:i], kv[i+1:]
				if len(key) > len(prefix) && key[:len(prefix)] == prefix {
					values[key[len(prefix):]] = val
				}
				break
			}
		}
	}
	return values
}
