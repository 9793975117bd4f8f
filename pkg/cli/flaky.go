package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/zylix-test/pkg/flaky"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

var historyFlag = &cli.StringFlag{
	Name:  "history",
	Usage: "Flaky history file (default from config)",
}

var flakyCommand = &cli.Command{
	Name:  "flaky",
	Usage: "Report flaky tests and manage quarantine",
	Subcommands: []*cli.Command{
		{
			Name:  "report",
			Usage: "Show tracked tests, flakiness scores and quarantine",
			Flags: []cli.Flag{
				historyFlag,
				&cli.Float64Flag{
					Name:  "threshold",
					Value: flaky.DefaultFlakyThreshold,
					Usage: "Flakiness score at which a test is listed",
				},
			},
			Action: flakyReport,
		},
		{
			Name:      "quarantine",
			Usage:     "Quarantine a test so runs skip it",
			ArgsUsage: "<suite/task>",
			Flags: []cli.Flag{
				historyFlag,
				&cli.StringFlag{Name: "reason", Value: "manual", Usage: "Recorded reason"},
			},
			Action: func(c *cli.Context) error {
				return editQuarantine(c, func(h *flaky.Handler, name string) {
					h.Quarantine(name, c.String("reason"))
				}, "quarantined")
			},
		},
		{
			Name:      "unquarantine",
			Usage:     "Release a test from quarantine",
			ArgsUsage: "<suite/task>",
			Flags:     []cli.Flag{historyFlag},
			Action: func(c *cli.Context) error {
				return editQuarantine(c, func(h *flaky.Handler, name string) {
					h.Unquarantine(name)
				}, "released")
			},
		},
	},
}

func openHistory(c *cli.Context) (*flaky.Handler, *flaky.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	path := cfg.Flaky.HistoryPath
	if c.IsSet("history") {
		path = c.String("history")
	}
	h := flaky.New(cfg.Flaky.Config, flaky.WithLogger(logger.Component("flaky")))
	store := flaky.NewStore(fs, path)
	if err := store.LoadInto(h); err != nil {
		return nil, nil, err
	}
	return h, store, nil
}

func flakyReport(c *cli.Context) error {
	h, store, err := openHistory(c)
	if err != nil {
		return err
	}
	p := newPrinter(c)
	sum := h.Summary()
	p.printf("%s %s\n", p.bold.Sprint("Flaky history"), p.gray.Sprint(store.Path()))
	p.printf("  %d tracked, %d flaky, %d quarantined (%d automatically)\n",
		sum.Tracked, sum.Flaky, sum.Quarantined, sum.AutoQuarantined)

	if names := h.FlakyTests(c.Float64("threshold")); len(names) > 0 {
		p.printf("\n  %-50s %6s %6s %9s\n", "Flaky test", "Score", "Runs", "Pass rate")
		for _, name := range names {
			hist, _ := h.History(name)
			p.printf("  %-50s %s %6d %8.0f%%\n", name,
				p.yellow.Sprintf("%6.2f", h.FlakinessScore(name)), hist.Runs, hist.PassRate()*100)
		}
	}

	if names := h.Quarantined(); len(names) > 0 {
		p.printf("\n  %-50s %s\n", "Quarantined", "Reason")
		for _, name := range names {
			q, _ := h.QuarantineInfo(name)
			how := "manual"
			if q.Auto {
				how = "auto"
			}
			p.printf("  %-50s %s %s\n", name, q.Reason,
				p.gray.Sprintf("(%s, %s)", how, q.QuarantinedAt.Format("2006-01-02")))
		}
	}
	return nil
}

func editQuarantine(c *cli.Context, edit func(*flaky.Handler, string), verb string) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one test name is required")
	}
	h, store, err := openHistory(c)
	if err != nil {
		return err
	}
	name := c.Args().First()
	edit(h, name)
	if err := store.SaveFrom(h); err != nil {
		return err
	}
	p := newPrinter(c)
	p.printf("%s %s %s\n", p.green.Sprint("✓"), name, verb)
	return nil
}
