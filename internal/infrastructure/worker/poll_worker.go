package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work
type Job func(ctx context.Context) error

// PollWorker runs a job on a fixed interval until stopped
type PollWorker struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	job      Job
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// NewPollWorker creates a polling worker. timeout bounds a single run; zero means the interval.
func NewPollWorker(name string, interval, timeout time.Duration, job Job, logger *zap.Logger) *PollWorker {
	if timeout <= 0 {
		timeout = interval
	}
	return &PollWorker{
		name:     name,
		interval: interval,
		timeout:  timeout,
		job:      job,
		logger:   logger,
	}
}

// Name returns the worker name for identification
func (w *PollWorker) Name() string {
	return w.name
}

// Start begins the polling loop
func (w *PollWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("%s: poll interval must be positive", w.name)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("%s already running", w.name)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("Poll worker started",
		zap.String("worker_name", w.name),
		zap.Duration("interval", w.interval))

	go w.pollLoop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for the current run to return
func (w *PollWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	st := w.Status()
	w.logger.Info("Poll worker stopped",
		zap.String("worker_name", w.name),
		zap.Int("runs", st.Runs),
		zap.Int("failures", st.Failures))
	return nil
}

// Status implements Reporter
func (w *PollWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:      w.name,
		Running:   w.isRunning,
		Runs:      w.runs,
		Failures:  w.failures,
		LastRunAt: w.lastRun,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *PollWorker) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *PollWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.job(runCtx)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Poll job failed", zap.String("worker_name", w.name), zap.Error(err))
	}
}
