package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronWorker runs a job on a cron schedule. Overlapping runs are skipped.
type CronWorker struct {
	name     string
	schedule string
	job      Job
	logger   *zap.Logger

	mu        sync.RWMutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// NewCronWorker creates a cron worker. schedule uses the standard five-field
// syntax or a descriptor such as "@daily".
func NewCronWorker(name, schedule string, job Job, logger *zap.Logger) *CronWorker {
	return &CronWorker{
		name:     name,
		schedule: schedule,
		job:      job,
		logger:   logger,
	}
}

// Name returns the worker name for identification
func (w *CronWorker) Name() string {
	return w.name
}

// Start registers the job and starts the scheduler
func (w *CronWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("%s already running", w.name)
	}

	cl := cronLogger{logger: w.logger.With(zap.String("worker_name", w.name))}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(w.schedule, w.run); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", w.schedule, w.name, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cron = c
	c.Start()

	w.logger.Info("Cron worker started",
		zap.String("worker_name", w.name),
		zap.String("schedule", w.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running job
func (w *CronWorker) Stop() error {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	<-c.Stop().Done()
	return nil
}

// Status implements Reporter
func (w *CronWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:      w.name,
		Running:   w.cron != nil,
		Runs:      w.runs,
		Failures:  w.failures,
		LastRunAt: w.lastRun,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *CronWorker) run() {
	w.mu.RLock()
	ctx := w.ctx
	w.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	err := w.job(ctx)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Cron job failed", zap.String("worker_name", w.name), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
