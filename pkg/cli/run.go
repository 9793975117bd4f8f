package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/zylix-test/pkg/bridge"
	"github.com/devicelab-dev/zylix-test/pkg/config"
	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/driver"
	"github.com/devicelab-dev/zylix-test/pkg/executor"
	"github.com/devicelab-dev/zylix-test/pkg/flaky"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
	"github.com/devicelab-dev/zylix-test/pkg/suite"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

// Replaced in tests.
var (
	newDriver = driver.New
	fs        = afero.NewOsFs()
)

// selectionFlags choose which tasks run. Shared by run and shard.
var selectionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "shard",
		Usage: "Run only shard `INDEX/TOTAL`, e.g. 0/4",
	},
	&cli.StringSliceFlag{
		Name:  "tags",
		Usage: "Only run tasks carrying one of these tags",
	},
	&cli.BoolFlag{
		Name:  "shuffle",
		Usage: "Randomise task order",
	},
	&cli.Int64Flag{
		Name:  "seed",
		Usage: "Shuffle seed (0 picks one and prints it)",
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run the tasks of a suite file or directory",
	ArgsUsage: "<suite-file-or-folder>",
	Description: `Run scripted tasks in parallel, one driver session per worker.

Exit status is 1 when any task failed or timed out.

Examples:
  zylix-test run suites/
  zylix-test run --platform android --workers 2 login.yaml
  zylix-test run --shard 0/4 --tags smoke -e USER=test suites/`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "platform", Aliases: []string{"p"}, Usage: "Target platform (web, ios, watchos, android, macos, linux)"},
		&cli.StringFlag{Name: "host", Usage: "Bridge host"},
		&cli.IntFlag{Name: "port", Usage: "Bridge port"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "Parallel workers (0 = GOMAXPROCS)"},
		&cli.BoolFlag{Name: "work-stealing", Usage: "Idle workers take tasks from busy workers' queues"},
		&cli.IntFlag{Name: "retries", Usage: "Retries for tasks that do not set their own"},
		&cli.BoolFlag{Name: "fail-fast", Usage: "Stop scheduling after the first failure"},
		&cli.BoolFlag{Name: "run-quarantined", Usage: "Run quarantined tasks instead of skipping them"},
		&cli.DurationFlag{Name: "timeout", Usage: "Default per-attempt task timeout"},
		&cli.StringFlag{Name: "history", Usage: "Flaky history file"},
		&cli.StringFlag{Name: "baseline-dir", Usage: "Visual baseline directory"},
		&cli.StringFlag{Name: "algorithm", Usage: "Visual algorithm (pixel, phash, ssim, histogram)"},
		&cli.Float64Flag{Name: "threshold", Usage: "Visual similarity threshold for phash, ssim and histogram"},
		&cli.StringSliceFlag{Name: "env", Aliases: []string{"e"}, Usage: "Script environment variables (KEY=VALUE)"},
		&cli.StringFlag{Name: "report", Usage: "Write the run result as JSON to this file"},
	}, selectionFlags...),
	Action: runSuites,
}

var shardCommand = &cli.Command{
	Name:      "shard",
	Usage:     "List the tasks a shard would run, in scheduling order",
	ArgsUsage: "<suite-file-or-folder>",
	Flags:     selectionFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		applySelectionFlags(c, cfg)
		suites, err := loadSuites(c)
		if err != nil {
			return err
		}
		ec, err := cfg.ExecutorConfig()
		if err != nil {
			return err
		}
		tasks := suite.Tasks(suites, suite.TaskOptions{})
		planned, seed := executor.New(ec).Plan(tasks)

		p := newPrinter(c)
		p.printf("shard %s: %d of %d tasks", ec.Shard, len(planned), len(tasks))
		if ec.Shuffle {
			p.printf(" (seed %d)", seed)
		}
		p.printf("\n")
		for _, t := range planned {
			p.printf("  %4d  %s %s\n", t.ID, t.Key(), p.gray.Sprintf("priority %d", t.Priority))
		}
		return nil
	},
}

func loadSuites(c *cli.Context) ([]*suite.Suite, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("exactly one suite file or folder is required")
	}
	return suite.LoadPath(fs, c.Args().First())
}

func applySelectionFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("shard") {
		cfg.Executor.Shard = c.String("shard")
	}
	if c.IsSet("tags") {
		cfg.Executor.Tags = c.StringSlice("tags")
	}
	if c.IsSet("shuffle") {
		cfg.Executor.Shuffle = c.Bool("shuffle")
	}
	if c.IsSet("seed") {
		cfg.Executor.Seed = c.Int64("seed")
	}
}

// applyRunFlags lets explicitly set flags override the config.
func applyRunFlags(c *cli.Context, cfg *config.Config) error {
	applySelectionFlags(c, cfg)
	if c.IsSet("platform") {
		cfg.Platform = c.String("platform")
	}
	if c.IsSet("host") {
		cfg.Bridge.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Bridge.Port = c.Int("port")
	}
	if c.IsSet("workers") {
		cfg.Executor.Workers = c.Int("workers")
	}
	if c.IsSet("work-stealing") {
		cfg.Executor.WorkStealing = c.Bool("work-stealing")
	}
	if c.IsSet("retries") {
		cfg.Retry.MaxRetries = c.Int("retries")
	}
	if c.IsSet("fail-fast") {
		cfg.Executor.FailFast = c.Bool("fail-fast")
	}
	if c.IsSet("run-quarantined") {
		cfg.Executor.RunQuarantined = c.Bool("run-quarantined")
	}
	if c.IsSet("timeout") {
		cfg.Executor.Timeout = c.Duration("timeout")
	}
	if c.IsSet("history") {
		cfg.Flaky.HistoryPath = c.String("history")
	}
	if c.IsSet("baseline-dir") {
		cfg.Visual.BaselineDir = c.String("baseline-dir")
	}
	if c.IsSet("algorithm") {
		a, err := visual.ParseAlgorithm(c.String("algorithm"))
		if err != nil {
			return err
		}
		cfg.Visual.Algorithm = a
	}
	if c.IsSet("threshold") {
		cfg.Visual.SimilarityThreshold = c.Float64("threshold")
	}
	return cfg.Validate()
}

// resolvePlatform picks the flag/config platform, else the suites' own.
func resolvePlatform(cfg *config.Config, suites []*suite.Suite) (core.Platform, error) {
	if cfg.Platform != "" {
		return core.ParsePlatform(cfg.Platform)
	}
	var p string
	for _, s := range suites {
		if s.Platform == "" {
			continue
		}
		if p != "" && s.Platform != p {
			return "", fmt.Errorf("suites target different platforms (%s, %s); pass --platform", p, s.Platform)
		}
		p = s.Platform
	}
	if p == "" {
		return "", fmt.Errorf("no platform set; pass --platform or set it in the suite")
	}
	return core.Platform(p), nil
}

func runSuites(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyRunFlags(c, cfg); err != nil {
		return err
	}
	suites, err := loadSuites(c)
	if err != nil {
		return err
	}
	platform, err := resolvePlatform(cfg, suites)
	if err != nil {
		return err
	}

	env := make(map[string]string)
	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range parseEnvVars(c.StringSlice("env")) {
		env[k] = v // CLI overrides workspace config
	}

	handler := flaky.New(cfg.Flaky.Config, flaky.WithLogger(logger.Component("flaky")))
	store := flaky.NewStore(fs, cfg.Flaky.HistoryPath)
	if err := store.LoadInto(handler); err != nil {
		return err
	}

	vis := visual.New(fs, cfg.Visual, visual.WithLogger(logger.Component("visual")))
	tasks := suite.Tasks(suites, suite.TaskOptions{
		Visual:      vis,
		WaitTimeout: cfg.Executor.WaitTimeout,
		Env:         env,
	})
	for i := range tasks {
		if tasks[i].Retries == 0 {
			tasks[i].Retries = cfg.Retry.MaxRetries
		}
	}

	ec, err := cfg.ExecutorConfig()
	if err != nil {
		return err
	}
	p := newPrinter(c)
	dc := cfg.DriverConfig(platform)
	ec.Flaky = handler
	ec.Launch = suites[0].LaunchConfig(env)
	ec.DriverFactory = func(worker int) (core.Driver, error) {
		log := logger.Component("bridge").WithField("worker", worker)
		return newDriver(platform, dc, bridge.WithLogger(log))
	}
	ec.OnTaskEnd = p.taskEnd

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.printf("%s %d tasks from %d suite(s) on %s\n", p.bold.Sprint("zylix-test"), len(tasks), len(suites), platform)
	res, err := executor.New(ec, executor.WithLogger(logger.Component("executor"))).Run(ctx, tasks)
	if err != nil {
		return err
	}
	p.summary(res)

	if err := store.SaveFrom(handler); err != nil {
		logger.Component("flaky").WithError(err).Warn("Failed to save flaky history")
	} else {
		logger.Debug("Saved flaky history to %s", store.Path())
	}
	if path := c.String("report"); path != "" {
		if err := writeReport(path, res); err != nil {
			return err
		}
	}

	if !res.Success() {
		return cli.Exit("", 1)
	}
	return nil
}

func writeReport(path string, res *executor.RunResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
