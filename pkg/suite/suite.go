package suite

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/executor"
	"github.com/devicelab-dev/zylix-test/pkg/jsengine"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

// Suite is one suite file.
type Suite struct {
	Name     string            `yaml:"name"`
	Platform string            `yaml:"platform"`
	Env      map[string]string `yaml:"env"`
	Launch   Launch            `yaml:"launch"`
	Tasks    []Task            `yaml:"tasks"`

	SourcePath string `yaml:"-"`
}

// Launch describes the application under test. String values may use
// ${...} expressions over env, e.g. "${env.APP_ID}".
type Launch struct {
	AppID           string                 `yaml:"appId"`
	Activity        string                 `yaml:"activity"`
	DeviceID        string                 `yaml:"deviceId"`
	DeviceName      string                 `yaml:"deviceName"`
	PlatformVersion string                 `yaml:"platformVersion"`
	Companion       string                 `yaml:"companionDeviceId"`
	Browser         string                 `yaml:"browser"`
	Headless        bool                   `yaml:"headless"`
	URL             string                 `yaml:"url"`
	ViewportWidth   int                    `yaml:"viewportWidth"`
	ViewportHeight  int                    `yaml:"viewportHeight"`
	Executable      string                 `yaml:"executable"`
	Args            []string               `yaml:"args"`
	DesktopFile     string                 `yaml:"desktopFile"`
	WorkingDir      string                 `yaml:"workingDir"`
	Capabilities    map[string]interface{} `yaml:"capabilities"`
}

// Task is one scripted test.
type Task struct {
	Name       string   `yaml:"name"`
	Priority   int      `yaml:"priority"`
	Timeout    Duration `yaml:"timeout"`
	Retries    int      `yaml:"retries"`
	Tags       []string `yaml:"tags"`
	Script     string   `yaml:"script"`
	ScriptFile string   `yaml:"scriptFile"`

	line       int
	scriptName string
}

// UnmarshalYAML records the task's line for error messages.
func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	type plain Task
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Task(p)
	t.line = node.Line
	return nil
}

// TaskOptions configures the tasks built from suites.
type TaskOptions struct {
	Visual      *visual.Engine
	WaitTimeout time.Duration
	// Env overrides suite env values, e.g. from the command line.
	Env map[string]string
}

// LaunchConfig expands the suite's launch block against its env.
func (s *Suite) LaunchConfig(overrides map[string]string) core.LaunchConfig {
	eng := jsengine.New(jsengine.WithEnv(s.env(overrides)))
	defer eng.Close()
	x := eng.ExpandVariables

	l := s.Launch
	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		args[i] = x(a)
	}
	return core.LaunchConfig{
		AppID:             x(l.AppID),
		Activity:          x(l.Activity),
		DeviceID:          x(l.DeviceID),
		DeviceName:        x(l.DeviceName),
		PlatformVersion:   x(l.PlatformVersion),
		CompanionDeviceID: x(l.Companion),
		Browser:           x(l.Browser),
		Headless:          l.Headless,
		URL:               x(l.URL),
		ViewportWidth:     l.ViewportWidth,
		ViewportHeight:    l.ViewportHeight,
		Executable:        x(l.Executable),
		Args:              args,
		DesktopFile:       x(l.DesktopFile),
		WorkingDir:        x(l.WorkingDir),
		Capabilities:      l.Capabilities,
	}
}

func (s *Suite) env(overrides map[string]string) map[string]string {
	env := make(map[string]string, len(s.Env)+len(overrides))
	for k, v := range s.Env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// Tasks converts suites into executor tasks. IDs follow declaration order
// across all suites, so shard membership only changes when the suites do.
func Tasks(suites []*Suite, opts TaskOptions) []executor.TestTask {
	var out []executor.TestTask
	for _, s := range suites {
		env := s.env(opts.Env)
		for _, t := range s.Tasks {
			out = append(out, executor.TestTask{
				ID:       len(out),
				Name:     t.Name,
				Suite:    s.Name,
				Priority: t.Priority,
				Timeout:  time.Duration(t.Timeout),
				Retries:  t.Retries,
				Tags:     t.Tags,
				Run:      scriptTask(t, env, opts),
			})
		}
	}
	return out
}

// scriptTask runs the task's script in a fresh runtime per attempt.
func scriptTask(t Task, env map[string]string, opts TaskOptions) executor.TaskFunc {
	name := t.scriptName
	if name == "" {
		name = t.Name
	}
	return func(ctx context.Context, tc *executor.TaskContext) error {
		eng := jsengine.New(
			jsengine.WithDriver(tc.Driver),
			jsengine.WithVisual(opts.Visual),
			jsengine.WithEnv(env),
			jsengine.WithLogger(tc.Log),
			jsengine.WithWaitTimeout(opts.WaitTimeout),
		)
		defer eng.Close()

		eng.SetVariable("task", map[string]interface{}{
			"name":    tc.Task.Name,
			"suite":   tc.Task.Suite,
			"attempt": tc.Attempt,
			"worker":  tc.WorkerID,
		})
		return eng.Run(ctx, name, t.Script)
	}
}
