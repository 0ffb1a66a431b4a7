package outbox

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/queue"
	"github.com/robfig/cron/v3"
)

// Config mirrors the processor's §6 configuration fields.
type Config struct {
	Topic           string
	BatchSize       int
	MaxAttempts     int
	InitialDelay    time.Duration
	CleanupAfter    time.Duration
	ProcessSchedule string // cron expression
	CleanupSchedule string // cron expression
}

// Processor is the scheduled batch worker described in §4.9: on each
// tick it claims a batch of due rows, emits each to the broker, and
// marks SENT/FAILED/retry-with-backoff; a separate tick sweeps old SENT
// rows.
type Processor struct {
	repo  Repository
	queue queue.Queue
	cfg   Config
	log   *logger.Logger
	cron  *cron.Cron

	processing int32 // atomic single-flight guard for one scan
}

// NewProcessor wires a Repository and a Queue into a scheduled
// Processor. Scheduling uses cron expressions (§6) rather than a
// hand-rolled ticker.
func NewProcessor(repo Repository, q queue.Queue, cfg Config, log *logger.Logger) *Processor {
	return &Processor{repo: repo, queue: q, cfg: cfg, log: log, cron: cron.New()}
}

// Start registers the process/cleanup jobs and begins the cron
// scheduler; it does not block.
func (p *Processor) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.cfg.ProcessSchedule, func() { p.runProcessScan(ctx) }); err != nil {
		return err
	}
	if _, err := p.cron.AddFunc(p.cfg.CleanupSchedule, func() { p.runCleanup(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight jobs to finish.
func (p *Processor) Stop() {
	<-p.cron.Stop().Done()
}

// runProcessScan claims one batch and drives it through emit/mark. A
// scan already in flight is skipped rather than overlapped (the
// single-flight guard), since a slow scan and a new tick firing
// concurrently would otherwise double-process the same due rows.
func (p *Processor) runProcessScan(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&p.processing, 0)

	rows, err := p.repo.FindAndLockReadyToProcess(ctx, p.cfg.BatchSize, p.cfg.MaxAttempts)
	if err != nil {
		p.log.Error("outbox scan failed", "error", err)
		return
	}

	for _, row := range rows {
		p.processRow(ctx, row)
	}
}

func (p *Processor) processRow(ctx context.Context, row *Row) {
	err := p.queue.Publish(ctx, p.cfg.Topic, row.ID, []byte(row.Message))
	if err == nil {
		if err := p.repo.MarkSent(ctx, row.ID); err != nil {
			p.log.Error("failed to mark outbox row sent", "id", row.ID, "error", err)
		}
		return
	}

	p.log.Warn("outbox emit failed, scheduling retry", "id", row.ID, "attempt", row.AttemptCount+1, "error", err)
	next := time.Now().Add(backoffDelay(row.AttemptCount+1, p.cfg.InitialDelay))
	if markErr := p.repo.MarkRetry(ctx, row.ID, next, err.Error(), p.cfg.MaxAttempts); markErr != nil {
		p.log.Error("failed to record outbox retry", "id", row.ID, "error", markErr)
	}
}

func (p *Processor) runCleanup(ctx context.Context) {
	n, err := p.repo.DeleteSentBefore(ctx, time.Now().Add(-p.cfg.CleanupAfter))
	if err != nil {
		p.log.Error("outbox cleanup failed", "error", err)
		return
	}
	if n > 0 {
		p.log.Info("outbox cleanup removed sent rows", "count", n)
	}
}

// backoffDelay computes base * 2^(attempt-1) with +/-20% jitter,
// floored at 100ms (§4.9).
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(base) * math.Pow(2, float64(attempt-1))
	jitterFactor := 0.8 + rand.Float64()*0.4 // uniform in [0.8, 1.2]
	d := time.Duration(scaled * jitterFactor)
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}
