package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/retry"
)

// terminateTimeout bounds driver teardown after the run context is gone.
const terminateTimeout = 30 * time.Second

// worker pulls tasks until the queue is empty or ctx is cancelled.
func (r *run) worker(ctx context.Context, id int) {
	log := r.log.WithField("worker", id)

	drv, err := r.openDriver(ctx, id)
	if err != nil {
		log.WithError(err).Error("Worker could not start its driver")
		r.mu.Lock()
		r.driverErr = err
		r.mu.Unlock()
		return
	}
	slot := &driverSlot{drv: drv}
	defer func() { terminate(slot.drv, log) }()

	ran := 0
	for ctx.Err() == nil {
		i, ok := r.queue.next(id)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if slot.drv != nil && ran > 0 && r.e.cfg.ResetBetweenTasks {
			if err := slot.drv.Reset(ctx); err != nil {
				log.WithError(err).Warn("Driver reset failed")
			}
		}
		r.results[i] = r.runTask(ctx, id, slot, r.schedule[i])
		ran++

		if r.e.cfg.FailFast && r.results[i].Status.IsFailure() {
			log.WithField("task", r.schedule[i].Key()).Warn("Fail-fast: cancelling remaining tasks")
			r.cancel()
		}
	}
}

// driverSlot is the driver a worker currently hands to its tasks. It is only
// touched by the worker goroutine.
type driverSlot struct {
	drv    core.Driver
	broken error // set when a replacement driver could not be opened
}

// replace retires the driver still held by an abandoned body and opens a
// fresh one. The old driver is terminated once the body returns.
func (r *run) replace(ctx context.Context, worker int, slot *driverSlot, bodyDone <-chan struct{}) {
	if slot.drv == nil && slot.broken == nil {
		return
	}
	log := r.log.WithField("worker", worker)
	old := slot.drv
	slot.drv = nil
	if old != nil {
		go func() {
			<-bodyDone
			terminate(old, log)
		}()
	}
	if ctx.Err() != nil {
		return
	}
	drv, err := r.openDriver(ctx, worker)
	if err != nil {
		log.WithError(err).Error("Worker could not replace its driver")
		slot.broken = err
		return
	}
	slot.drv, slot.broken = drv, nil
	log.Warn("Replaced driver held by an abandoned task")
}

func terminate(drv core.Driver, log logrus.FieldLogger) {
	if drv == nil || !drv.IsRunning() {
		return
	}
	tctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := drv.Terminate(tctx); err != nil {
		log.WithError(err).Warn("Failed to terminate driver")
	}
}

func (r *run) openDriver(ctx context.Context, id int) (core.Driver, error) {
	if r.e.cfg.DriverFactory == nil {
		return nil, nil
	}
	drv, err := r.e.cfg.DriverFactory(id)
	if err != nil {
		return nil, fmt.Errorf("create driver for worker %d: %w", id, err)
	}
	if drv.IsRunning() {
		return drv, nil
	}
	if err := drv.Launch(ctx, r.e.cfg.Launch); err != nil {
		return nil, fmt.Errorf("launch driver for worker %d: %w", id, err)
	}
	return drv, nil
}

// runTask runs every attempt of task and records the final outcome.
func (r *run) runTask(ctx context.Context, worker int, slot *driverSlot, task TestTask) TaskResult {
	cfg := r.e.cfg
	log := r.log.WithFields(logrus.Fields{"task": task.Key(), "worker": worker})
	if cfg.OnTaskStart != nil {
		cfg.OnTaskStart(task, worker)
	}

	rc := cfg.Retry
	rc.MaxRetries = task.Retries
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Task failed, retrying")
	}

	start := time.Now()
	attempt := 0
	stats, err := retry.New(rc, retry.WithLogger(log)).Run(ctx, func(ctx context.Context) error {
		attempt++
		if slot.broken != nil {
			return core.ErrNotConnected.WithMessage("worker has no driver").WithCause(slot.broken)
		}
		abandoned, err := r.e.attempt(ctx, &TaskContext{
			Task:     task,
			WorkerID: worker,
			Attempt:  attempt,
			Driver:   slot.drv,
			Log:      log.WithField("attempt", attempt),
		})
		if abandoned != nil {
			r.replace(ctx, worker, slot, abandoned)
		}
		return err
	})

	res := TaskResult{
		ID:       task.ID,
		Name:     task.Name,
		Suite:    task.Suite,
		WorkerID: worker,
		Attempts: stats.Attempts,
		Duration: time.Since(start),
	}
	switch {
	case err == nil:
		res.Status = core.StatusPassed
	case errors.Is(err, core.ErrTimeout):
		res.Status = core.StatusTimedOut
	case ctx.Err() != nil:
		res.Status = core.StatusSkipped
	default:
		res.Status = core.StatusFailed
	}
	res.setError(err)

	if cfg.Flaky != nil && res.Status != core.StatusSkipped {
		cfg.Flaky.RecordResult(task.Key(), res.Status == core.StatusPassed)
	}

	entry := log.WithFields(logrus.Fields{
		"status":   res.Status.String(),
		"attempts": res.Attempts,
		"duration": res.Duration,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("Task finished")

	if cfg.OnTaskEnd != nil {
		cfg.OnTaskEnd(res)
	}
	return res
}

// attempt runs the task body once under its own deadline. A body that
// ignores its context is abandoned when the deadline passes; the returned
// channel is then closed once that body finally returns.
func (e *Executor) attempt(ctx context.Context, tc *TaskContext) (<-chan struct{}, error) {
	if tc.Task.Run == nil {
		return nil, core.ErrActionFailed.WithMessage("task " + tc.Task.Key() + " has no body")
	}
	timeout := tc.Task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if p := recover(); p != nil {
				done <- core.ErrActionFailed.WithMessage(fmt.Sprintf("task panicked: %v", p))
			}
		}()
		done <- tc.Task.Run(actx, tc)
	}()

	timedOut := func() *core.ExecutionError {
		return core.ErrTimeout.WithMessage(fmt.Sprintf("task %s exceeded %s", tc.Task.Key(), timeout))
	}
	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) &&
			!errors.Is(err, core.ErrTimeout) {
			return nil, timedOut().WithCause(err)
		}
		return nil, err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return finished, err
		}
		return finished, timedOut()
	}
}
