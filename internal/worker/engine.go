package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mentorhub/internal/meetings"
	"mentorhub/internal/metrics"
	"mentorhub/internal/redis"
	"mentorhub/internal/rules"
)

const (
	jobNotifications = "tick:notifications"
	jobMeetings      = "tick:meetings"
)

// Engine drives the periodic reconciliation: one ticker materializes rules,
// runs due one-shot tasks and dispatches notifications; a second, slower
// ticker sweeps overdue meetings. A Redis advisory lock keeps replicas from
// ticking concurrently; it is best effort, the per-rule compare-and-set on
// last_sent_at is what actually prevents double sends.
type Engine struct {
	materializer *rules.Materializer
	tasks        *meetings.Service
	reconciler   *meetings.Reconciler
	dispatcher   *Dispatcher
	lock         *redis.JobLock // nil when Redis is not configured
	config       EngineConfig
	logger       *zap.Logger
}

type EngineConfig struct {
	TickInterval      time.Duration
	ReconcileInterval time.Duration
}

func NewEngine(
	materializer *rules.Materializer,
	tasks *meetings.Service,
	reconciler *meetings.Reconciler,
	dispatcher *Dispatcher,
	lock *redis.JobLock,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	return &Engine{
		materializer: materializer,
		tasks:        tasks,
		reconciler:   reconciler,
		dispatcher:   dispatcher,
		lock:         lock,
		config:       cfg,
		logger:       logger,
	}
}

// Start runs both tickers until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	tick := time.NewTicker(e.config.TickInterval)
	defer tick.Stop()
	sweep := time.NewTicker(e.config.ReconcileInterval)
	defer sweep.Stop()

	e.logger.Info("engine started",
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Duration("reconcile_interval", e.config.ReconcileInterval),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return
		case <-tick.C:
			e.runLocked(ctx, jobNotifications, e.runTick)
		case <-sweep.C:
			e.runLocked(ctx, jobMeetings, e.runSweep)
		}
	}
}

// runLocked runs fn under the job's advisory lock. A held lock skips the
// run; a Redis failure proceeds with a warning.
func (e *Engine) runLocked(ctx context.Context, job string, fn func(context.Context, time.Time) error) {
	if e.lock != nil {
		release, acquired, err := e.lock.Acquire(ctx, job)
		if err != nil {
			e.logger.Warn("advisory lock unavailable, proceeding",
				zap.Error(err),
				zap.String("job", job),
			)
		} else if !acquired {
			e.logger.Info("another replica holds the lock, skipping",
				zap.String("job", job),
			)
			return
		} else {
			defer release(ctx)
		}
	}

	start := time.Now()
	err := fn(ctx, start.UTC())
	metrics.RecordTick(job, time.Since(start), err)
	if err != nil {
		e.logger.Error("tick finished with errors",
			zap.Error(err),
			zap.String("job", job),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// runTick is one pass of the notification pipeline. Stages run in order and
// each stage's failure is reported but does not block the later stages: a
// broken rule must not stall deliveries already enqueued.
func (e *Engine) runTick(ctx context.Context, now time.Time) error {
	var firstErr error

	if err := e.materializer.Run(ctx, now); err != nil {
		e.logger.Error("rule materialization failed", zap.Error(err))
		firstErr = err
	}

	if err := e.tasks.RunDueTasks(ctx, now); err != nil {
		e.logger.Error("scheduled task run failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	delivered, failed, err := e.dispatcher.DispatchDue(ctx, now)
	if err != nil {
		e.logger.Error("dispatch failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if delivered+failed > 0 {
		e.logger.Info("tick dispatched",
			zap.Int("delivered", delivered),
			zap.Int("failed", failed),
		)
	}
	return firstErr
}

func (e *Engine) runSweep(ctx context.Context, now time.Time) error {
	completed, err := e.reconciler.Sweep(ctx, now)
	if completed > 0 {
		e.logger.Info("meetings swept", zap.Int("completed", completed))
	}
	return err
}
