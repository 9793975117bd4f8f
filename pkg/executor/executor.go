// Package executor runs test tasks on parallel workers. Each worker owns its
// own driver session; tasks are filtered by tag and shard before scheduling.
package executor

import (
	"context"
	"math/rand/v2"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/flaky"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
	"github.com/devicelab-dev/zylix-test/pkg/retry"
)

// TaskFunc is a test body. It must return when ctx is done.
type TaskFunc func(ctx context.Context, tc *TaskContext) error

// TaskContext is handed to each attempt of a task.
type TaskContext struct {
	Task     TestTask
	WorkerID int
	Attempt  int         // 1-based
	Driver   core.Driver // The worker's driver; nil without a DriverFactory
	Log      logrus.FieldLogger
}

// TestTask is one schedulable test.
type TestTask struct {
	ID       int
	Name     string
	Suite    string
	Priority int           // Higher runs first
	Timeout  time.Duration // Per attempt; zero uses Config.DefaultTimeout
	Retries  int           // Whole-task retries after the first attempt
	Tags     []string
	Run      TaskFunc
}

// Key identifies the task across runs, e.g. in flaky history.
func (t TestTask) Key() string {
	if t.Suite == "" {
		return t.Name
	}
	return t.Suite + "/" + t.Name
}

// HasAnyTag reports whether the task carries at least one of tags.
func (t TestTask) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if slices.Contains(t.Tags, tag) {
			return true
		}
	}
	return false
}

// DriverFactory creates the driver owned by one worker. It must return a new
// driver on every call: a worker whose task body was abandoned asks for a
// replacement and terminates the old driver once the body returns.
type DriverFactory func(workerID int) (core.Driver, error)

// Config controls a run.
type Config struct {
	Workers        int // 0 uses runtime.GOMAXPROCS(0)
	WorkStealing   bool
	Shuffle        bool
	Seed           int64 // Shuffle seed; 0 picks one and reports it
	Tags           []string
	Shard          Shard
	RunQuarantined bool
	FailFast       bool
	DefaultTimeout time.Duration

	// Retry is the backoff between whole-task retries. MaxRetries is taken
	// from each task.
	Retry retry.Config

	// DriverFactory, when set, gives each worker a driver that is launched
	// with Launch before its first task and terminated when it exits.
	DriverFactory     DriverFactory
	Launch            core.LaunchConfig
	ResetBetweenTasks bool

	// Flaky receives final outcomes and decides which tasks are quarantined.
	Flaky *flaky.Handler

	OnTaskStart func(task TestTask, workerID int)
	OnTaskEnd   func(res TaskResult)
}

// DefaultConfig returns a run configuration with a 5 minute task timeout
// and one second between task retries.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Minute,
		Retry: retry.Config{
			Strategy:     retry.StrategyFixed,
			InitialDelay: time.Second,
		},
	}
}

// TaskResult is the final outcome of one task.
type TaskResult struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Suite     string          `json:"suite,omitempty"`
	Status    core.TestStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	WorkerID  int             `json:"worker"`
	Duration  time.Duration   `json:"duration"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
}

func (r *TaskResult) setError(err error) {
	r.Err = err
	if err == nil {
		return
	}
	r.Error = err.Error()
	if k := core.KindOf(err); k != core.KindNone {
		r.ErrorKind = k.String()
	}
}

// RunResult summarises a run. Tasks are in scheduling order.
type RunResult struct {
	RunID       string        `json:"runId"`
	Seed        int64         `json:"seed"`
	Shard       Shard         `json:"shard"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Workers     int           `json:"workers"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	TimedOut    int           `json:"timedOut"`
	Skipped     int           `json:"skipped"`
	Quarantined int           `json:"quarantined"`
	Tasks       []TaskResult  `json:"tasks"`
}

// Success reports whether no task failed or timed out. Quarantined and
// skipped tasks do not fail a run.
func (r *RunResult) Success() bool {
	return r.Failed == 0 && r.TimedOut == 0
}

func (r *RunResult) count() {
	r.Total = len(r.Tasks)
	for _, t := range r.Tasks {
		switch t.Status {
		case core.StatusPassed:
			r.Passed++
		case core.StatusFailed:
			r.Failed++
		case core.StatusTimedOut:
			r.TimedOut++
		case core.StatusSkipped:
			r.Skipped++
		case core.StatusQuarantined:
			r.Quarantined++
		}
	}
}

// Executor schedules tasks onto workers.
type Executor struct {
	cfg Config
	log logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = l }
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{cfg: cfg, log: logger.Component("executor")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the run configuration.
func (e *Executor) Config() Config { return e.cfg }

// Plan filters tasks by tag and shard and orders them for scheduling:
// by priority (then ID), or shuffled when Shuffle is set. It returns the
// seed actually used.
func (e *Executor) Plan(tasks []TestTask) ([]TestTask, int64) {
	var out []TestTask
	for _, t := range tasks {
		if len(e.cfg.Tags) > 0 && !t.HasAnyTag(e.cfg.Tags) {
			continue
		}
		if !e.cfg.Shard.ShouldRun(t.ID) {
			continue
		}
		out = append(out, t)
	}

	seed := e.cfg.Seed
	if e.cfg.Shuffle {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1))
		r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, seed
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, seed
}

// Run executes tasks and returns once every worker has finished. The error
// is non-nil only for an invalid configuration; task failures are reported
// in the result.
func (e *Executor) Run(ctx context.Context, tasks []TestTask) (*RunResult, error) {
	if err := e.cfg.Shard.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	schedule, seed := e.Plan(tasks)

	res := &RunResult{
		RunID:     ulid.Make().String(),
		Seed:      seed,
		Shard:     e.cfg.Shard,
		StartedAt: start,
		Tasks:     make([]TaskResult, len(schedule)),
	}
	var runnable []int
	for i, t := range schedule {
		res.Tasks[i] = TaskResult{ID: t.ID, Name: t.Name, Suite: t.Suite, Status: core.StatusPending}
		if e.quarantined(t) {
			res.Tasks[i].Status = core.StatusQuarantined
			e.log.WithField("task", t.Key()).Info("Skipping quarantined task")
			continue
		}
		runnable = append(runnable, i)
	}

	log := e.log.WithField("run_id", res.RunID)
	workers := e.workerCount(len(runnable))
	res.Workers = workers
	log.WithFields(logrus.Fields{
		"tasks":   len(runnable),
		"workers": workers,
		"shard":   e.cfg.Shard.String(),
		"seed":    seed,
	}).Info("Starting run")

	if workers > 0 {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := &run{e: e, schedule: schedule, results: res.Tasks, cancel: cancel, log: log}
		if e.cfg.WorkStealing {
			r.queue = newStealingQueue(runnable, workers)
		} else {
			r.queue = newSharedQueue(runnable)
		}

		g, gctx := errgroup.WithContext(runCtx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				r.worker(gctx, w)
				return nil
			})
		}
		_ = g.Wait()
		r.finish()
	}

	res.Duration = time.Since(start)
	res.count()
	log.WithFields(logrus.Fields{
		"passed":      res.Passed,
		"failed":      res.Failed,
		"timed_out":   res.TimedOut,
		"skipped":     res.Skipped,
		"quarantined": res.Quarantined,
		"duration":    res.Duration,
	}).Info("Run complete")
	return res, nil
}

func (e *Executor) quarantined(t TestTask) bool {
	return e.cfg.Flaky != nil && !e.cfg.RunQuarantined && e.cfg.Flaky.IsQuarantined(t.Key())
}

func (e *Executor) workerCount(tasks int) int {
	n := e.cfg.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > tasks {
		n = tasks
	}
	return n
}

// run is the state shared by the workers of one Run call. Workers write
// disjoint entries of results.
type run struct {
	e        *Executor
	schedule []TestTask
	results  []TaskResult
	queue    queue
	cancel   context.CancelFunc
	log      logrus.FieldLogger

	mu        sync.Mutex
	driverErr error
}

// finish resolves tasks no worker reached.
func (r *run) finish() {
	for i := range r.results {
		if r.results[i].Status != core.StatusPending {
			continue
		}
		if r.driverErr != nil {
			r.results[i].Status = core.StatusFailed
			r.results[i].setError(r.driverErr)
			continue
		}
		r.results[i].Status = core.StatusSkipped
		r.results[i].Error = "run cancelled"
	}
}
