// Package cli provides the command-line interface for zylix-test.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/zylix-test/pkg/config"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to config.yaml (default: ./config.yaml or ./config.yml)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"ZYLIX_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to this file instead of stderr",
	},
	&cli.BoolFlag{
		Name:    "no-color",
		Usage:   "Disable ANSI colors",
		EnvVars: []string{"NO_COLOR"},
	},
}

// NewApp builds the application. Exit codes are left to the caller.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "zylix-test",
		Usage:   "Cross-platform UI test runner",
		Version: Version,
		Description: `zylix-test runs scripted UI tests against web, iOS, watchOS, Android,
macOS and Linux automation bridges, with retries, flaky-test quarantine,
visual regression and sharded parallel execution.

Examples:
  zylix-test run --workers 4 suites/
  zylix-test run --shard 1/4 --tags smoke login.yaml
  zylix-test baseline rollback home 3
  zylix-test flaky report`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			shardCommand,
			baselineCommand,
			flakyCommand,
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	err := NewApp().Run(os.Args)
	logger.Close()
	if err == nil {
		return
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := strings.TrimSpace(ec.Error()); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(ec.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig loads the workspace config and points the global logger at
// stderr or the configured log file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err == nil {
			err = cfg.ApplyEnv(os.LookupEnv)
		}
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.Bool("verbose") {
		level = logrus.DebugLevel
	}
	logFile := cfg.LogFile
	if c.IsSet("log-file") {
		logFile = c.String("log-file")
	}
	if logFile != "" {
		if err := logger.Init(logFile); err != nil {
			return nil, err
		}
		logger.L().SetLevel(level)
	} else {
		logger.SetOutput(c.App.ErrWriter, level)
	}
	return cfg, nil
}
