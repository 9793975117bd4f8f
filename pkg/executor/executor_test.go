package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver/mock"
	"github.com/devicelab-dev/zylix-test/pkg/flaky"
	"github.com/devicelab-dev/zylix-test/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Config{Strategy: retry.StrategyImmediate}
	cfg.DefaultTimeout = 5 * time.Second
	return cfg
}

func passing(n int) []TestTask {
	tasks := make([]TestTask, n)
	for i := range tasks {
		tasks[i] = TestTask{
			ID:    i,
			Name:  fmt.Sprintf("task-%d", i),
			Suite: "smoke",
			Run:   func(ctx context.Context, tc *TaskContext) error { return nil },
		}
	}
	return tasks
}

func TestRunAllPass(t *testing.T) {
	var mu sync.Mutex
	drivers := map[int]*mock.Driver{}

	cfg := testConfig()
	cfg.Workers = 3
	cfg.DriverFactory = func(id int) (core.Driver, error) {
		d := mock.New(mock.Config{})
		mu.Lock()
		drivers[id] = d
		mu.Unlock()
		return d, nil
	}

	tasks := passing(10)
	for i := range tasks {
		tasks[i].Run = func(ctx context.Context, tc *TaskContext) error {
			if tc.Driver == nil || !tc.Driver.IsRunning() {
				return errors.New("driver not launched")
			}
			return nil
		}
	}

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 10, res.Passed)
	assert.Equal(t, 3, res.Workers)
	assert.Len(t, res.RunID, 26)

	for i, tr := range res.Tasks {
		assert.Equal(t, i, tr.ID, "results keep scheduling order")
		assert.Equal(t, core.StatusPassed, tr.Status)
		assert.Equal(t, 1, tr.Attempts)
	}

	require.Len(t, drivers, 3)
	for id, d := range drivers {
		assert.Equal(t, 1, d.Launches(), "worker %d launches once", id)
		assert.False(t, d.IsRunning(), "worker %d terminates its driver", id)
	}
}

func TestWorkersDefaultToTaskCount(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 16
	res, err := New(cfg).Run(context.Background(), passing(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Workers)

	res, err = New(cfg).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Workers)
	assert.True(t, res.Success())
}

func TestPriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1

	var mu sync.Mutex
	var order []int
	tasks := passing(5)
	prio := []int{0, 5, 1, 5, 9}
	for i := range tasks {
		tasks[i].Priority = prio[i]
		tasks[i].Run = func(ctx context.Context, tc *TaskContext) error {
			mu.Lock()
			order = append(order, tc.Task.ID)
			mu.Unlock()
			return nil
		}
	}

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 3, 2, 0}, order)
	for i, id := range order {
		assert.Equal(t, id, res.Tasks[i].ID)
	}
}

func TestShuffleIsSeeded(t *testing.T) {
	ids := func(ts []TestTask) []int {
		out := make([]int, len(ts))
		for i, t := range ts {
			out[i] = t.ID
		}
		return out
	}

	cfg := testConfig()
	cfg.Shuffle = true
	cfg.Seed = 42
	a, seedA := New(cfg).Plan(passing(20))
	b, seedB := New(cfg).Plan(passing(20))
	assert.Equal(t, int64(42), seedA)
	assert.Equal(t, seedA, seedB)
	assert.Equal(t, ids(a), ids(b))
	assert.ElementsMatch(t, ids(passing(20)), ids(a))

	cfg.Seed = 0
	_, seed := New(cfg).Plan(passing(3))
	assert.NotZero(t, seed, "a generated seed is reported")
}

func TestPlanFiltersTagsThenShard(t *testing.T) {
	tasks := passing(8)
	for i := range tasks {
		if i%2 == 0 {
			tasks[i].Tags = []string{"smoke"}
		} else {
			tasks[i].Tags = []string{"slow"}
		}
	}
	cfg := testConfig()
	cfg.Tags = []string{"smoke"}
	cfg.Shard = Shard{Index: 0, Total: 4}

	plan, _ := New(cfg).Plan(tasks)
	require.Len(t, plan, 2)
	assert.Equal(t, 0, plan[0].ID)
	assert.Equal(t, 4, plan[1].ID)
}

func TestInvalidShardRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Shard = Shard{Index: 5, Total: 2}
	_, err := New(cfg).Run(context.Background(), passing(1))
	assert.Error(t, err)
}

func TestTimeoutMarksTimedOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cfg := testConfig()
	cfg.Workers = 2
	tasks := []TestTask{
		{
			ID: 0, Name: "stuck", Timeout: 20 * time.Millisecond,
			// Ignores its context; the executor must not wait for it.
			Run: func(ctx context.Context, tc *TaskContext) error {
				<-release
				return nil
			},
		},
		{
			ID: 1, Name: "slow", Timeout: 20 * time.Millisecond,
			Run: func(ctx context.Context, tc *TaskContext) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 2, res.TimedOut)
	for _, tr := range res.Tasks {
		assert.Equal(t, core.StatusTimedOut, tr.Status, tr.Name)
		assert.True(t, errors.Is(tr.Err, core.ErrTimeout), tr.Name)
		assert.Equal(t, "timeout", tr.ErrorKind)
	}
}

func TestRetriesWholeTask(t *testing.T) {
	var calls atomic.Int32
	flakyBody := func(ctx context.Context, tc *TaskContext) error {
		calls.Add(1)
		if tc.Attempt < 3 {
			return core.ErrElementNotFound.WithMessage("not yet")
		}
		return nil
	}

	cfg := testConfig()
	res, err := New(cfg).Run(context.Background(), []TestTask{{ID: 0, Name: "eventually", Retries: 2, Run: flakyBody}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPassed, res.Tasks[0].Status)
	assert.Equal(t, 3, res.Tasks[0].Attempts)
	assert.Equal(t, int32(3), calls.Load())

	res, err = New(cfg).Run(context.Background(), []TestTask{{ID: 0, Name: "gives-up", Retries: 1, Run: flakyBody}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, res.Tasks[0].Status)
	assert.Equal(t, 2, res.Tasks[0].Attempts)
	assert.Equal(t, "element_not_found", res.Tasks[0].ErrorKind)
}

func TestQuarantinedTasksSkipped(t *testing.T) {
	h := flaky.New(flaky.DefaultConfig())
	h.Quarantine("smoke/task-1", "known broken")

	var ran atomic.Bool
	tasks := passing(3)
	tasks[1].Run = func(ctx context.Context, tc *TaskContext) error {
		ran.Store(true)
		return errors.New("broken")
	}

	cfg := testConfig()
	cfg.Flaky = h
	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 1, res.Quarantined)
	assert.Equal(t, core.StatusQuarantined, res.Tasks[1].Status)
	assert.False(t, ran.Load())

	cfg.RunQuarantined = true
	res, err = New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.Equal(t, 1, res.Failed)
}

func TestOutcomesFeedFlakyHandler(t *testing.T) {
	h := flaky.New(flaky.DefaultConfig())
	cfg := testConfig()
	cfg.Flaky = h
	tasks := []TestTask{{ID: 0, Name: "checkout", Suite: "shop", Run: func(ctx context.Context, tc *TaskContext) error {
		return errors.New("payment sheet missing")
	}}}

	for i := 0; i < 3; i++ {
		res, err := New(cfg).Run(context.Background(), tasks)
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailed, res.Tasks[0].Status)
	}
	assert.True(t, h.IsQuarantined("shop/checkout"))

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQuarantined, res.Tasks[0].Status)
	assert.True(t, res.Success())
}

func TestFailFastCancelsRemaining(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.FailFast = true
	tasks := passing(5)
	tasks[0].Run = func(ctx context.Context, tc *TaskContext) error { return errors.New("boom") }

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 4, res.Skipped)
	assert.False(t, res.Success())
}

func TestCancelledRunSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.Workers = 1
	tasks := passing(3)
	tasks[0].Run = func(c context.Context, tc *TaskContext) error {
		cancel()
		<-c.Done()
		return c.Err()
	}

	res, err := New(cfg).Run(ctx, tasks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.True(t, res.Success())
}

func TestWorkStealingRunsEveryTaskOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4
	cfg.WorkStealing = true

	var mu sync.Mutex
	runs := map[int]int{}
	tasks := passing(40)
	for i := range tasks {
		slow := i%4 == 0
		tasks[i].Run = func(ctx context.Context, tc *TaskContext) error {
			if slow {
				time.Sleep(5 * time.Millisecond)
			}
			mu.Lock()
			runs[tc.Task.ID]++
			mu.Unlock()
			return nil
		}
	}

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Passed)
	require.Len(t, runs, 40)
	for id, n := range runs {
		assert.Equal(t, 1, n, "task %d", id)
	}
}

func TestDriverFactoryFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	cfg.DriverFactory = func(int) (core.Driver, error) {
		return nil, core.ErrConnectionFailed.WithMessage("bridge down")
	}

	res, err := New(cfg).Run(context.Background(), passing(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	for _, tr := range res.Tasks {
		assert.True(t, errors.Is(tr.Err, core.ErrConnectionFailed))
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	tasks := []TestTask{{ID: 0, Name: "panics", Run: func(ctx context.Context, tc *TaskContext) error {
		panic("nil map")
	}}}
	res, err := New(testConfig()).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, res.Tasks[0].Status)
	assert.Contains(t, res.Tasks[0].Error, "nil map")
}

func TestMissingBodyFails(t *testing.T) {
	res, err := New(testConfig()).Run(context.Background(), []TestTask{{ID: 0, Name: "empty"}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, res.Tasks[0].Status)
}

func TestTaskUsesWorkerDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.ResetBetweenTasks = true
	d := mock.New(mock.Config{Elements: []mock.Element{
		{Selector: core.Selector{TestID: "login"}, Text: "Log in", Visible: true},
	}})
	cfg.DriverFactory = func(int) (core.Driver, error) { return d, nil }

	body := func(ctx context.Context, tc *TaskContext) error {
		h, err := tc.Driver.FindElement(ctx, core.Selector{TestID: "login"})
		if err != nil {
			return err
		}
		return tc.Driver.Tap(ctx, h)
	}
	tasks := []TestTask{{ID: 0, Name: "a", Run: body}, {ID: 1, Name: "b", Run: body}}

	var ended []string
	cfg.OnTaskEnd = func(r TaskResult) { ended = append(ended, r.Name) }
	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, []string{"a", "b"}, ended)
	assert.Contains(t, d.Calls(), "reset")
}

func TestAbandonedTaskKeepsItsDriver(t *testing.T) {
	var mu sync.Mutex
	var drivers []*mock.Driver
	cfg := testConfig()
	cfg.Workers = 1
	cfg.DriverFactory = func(int) (core.Driver, error) {
		d := mock.New(mock.Config{})
		mu.Lock()
		drivers = append(drivers, d)
		mu.Unlock()
		return d, nil
	}

	release := make(chan struct{})
	stuck := make(chan core.Driver, 1)
	var nextDriver core.Driver
	tasks := []TestTask{
		{
			ID: 0, Name: "stuck", Priority: 1, Timeout: 20 * time.Millisecond,
			Run: func(ctx context.Context, tc *TaskContext) error {
				stuck <- tc.Driver
				<-release
				return nil
			},
		},
		{
			ID: 1, Name: "next",
			Run: func(ctx context.Context, tc *TaskContext) error {
				nextDriver = tc.Driver
				return nil
			},
		},
	}

	res, err := New(cfg).Run(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, core.StatusTimedOut, res.Tasks[0].Status)
	assert.Equal(t, core.StatusPassed, res.Tasks[1].Status)
	require.NotNil(t, nextDriver)
	assert.NotSame(t, <-stuck, nextDriver)

	mu.Lock()
	require.Len(t, drivers, 2)
	first, second := drivers[0], drivers[1]
	mu.Unlock()
	assert.True(t, first.IsRunning(), "driver must stay up while the abandoned body runs")
	assert.False(t, second.IsRunning())

	close(release)
	assert.Eventually(t, func() bool { return !first.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestTaskKeyAndTags(t *testing.T) {
	assert.Equal(t, "login", TestTask{Name: "login"}.Key())
	assert.Equal(t, "auth/login", TestTask{Name: "login", Suite: "auth"}.Key())
	tt := TestTask{Tags: []string{"smoke", "ios"}}
	assert.True(t, tt.HasAnyTag([]string{"android", "ios"}))
	assert.False(t, tt.HasAnyTag([]string{"android"}))
}
