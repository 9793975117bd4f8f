package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

var baselineDirFlag = &cli.StringFlag{
	Name:  "baseline-dir",
	Usage: "Visual baseline directory (default from config)",
}

var baselineCommand = &cli.Command{
	Name:  "baseline",
	Usage: "Inspect and manage visual baselines",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List baselines with their current and latest version",
			Flags:  []cli.Flag{baselineDirFlag},
			Action: listBaselines,
		},
		{
			Name:      "versions",
			Usage:     "Show the version history of a baseline",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{baselineDirFlag},
			Action:    baselineVersions,
		},
		{
			Name:      "rollback",
			Usage:     "Make an earlier version the current baseline",
			ArgsUsage: "<name> <version>",
			Flags:     []cli.Flag{baselineDirFlag},
			Action:    rollbackBaseline,
		},
		{
			Name:      "compare",
			Usage:     "Compare an image file with a baseline",
			ArgsUsage: "<name> <image>",
			Flags: []cli.Flag{
				baselineDirFlag,
				&cli.StringFlag{Name: "algorithm", Usage: "pixel, phash, ssim or histogram"},
				&cli.Float64Flag{Name: "threshold", Usage: "Similarity threshold"},
			},
			Action: compareBaseline,
		},
		{
			Name:      "update",
			Usage:     "Store an image file as a new baseline version",
			ArgsUsage: "<name> <image>",
			Flags:     []cli.Flag{baselineDirFlag},
			Action:    updateBaseline,
		},
	},
}

func visualEngine(c *cli.Context) (*visual.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	vc := cfg.Visual
	if c.IsSet("baseline-dir") {
		vc.BaselineDir = c.String("baseline-dir")
	}
	if c.IsSet("algorithm") {
		if vc.Algorithm, err = visual.ParseAlgorithm(c.String("algorithm")); err != nil {
			return nil, err
		}
	}
	if c.IsSet("threshold") {
		vc.SimilarityThreshold = c.Float64("threshold")
	}
	return visual.New(fs, vc, visual.WithLogger(logger.Component("visual"))), nil
}

func listBaselines(c *cli.Context) error {
	eng, err := visualEngine(c)
	if err != nil {
		return err
	}
	names, err := eng.Baselines()
	if err != nil {
		return err
	}
	p := newPrinter(c)
	if len(names) == 0 {
		p.printf("No baselines in %s\n", eng.Config().BaselineDir)
		return nil
	}
	p.printf("  %-40s %8s %8s\n", "Baseline", "Current", "Latest")
	for _, name := range names {
		m, err := eng.Manifest(name)
		if err != nil {
			return err
		}
		latest := 0
		if n := len(m.Versions); n > 0 {
			latest = m.Versions[n-1].Version
		}
		p.printf("  %-40s %8s %8s\n", name, versionLabel(m.Current), versionLabel(latest))
	}
	return nil
}

func versionLabel(v int) string {
	if v == 0 {
		return "-"
	}
	return "v" + strconv.Itoa(v)
}

func baselineVersions(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: baseline versions <name>")
	}
	eng, err := visualEngine(c)
	if err != nil {
		return err
	}
	name := c.Args().First()
	m, err := eng.Manifest(name)
	if err != nil {
		return err
	}
	p := newPrinter(c)
	p.printf("%s\n", p.bold.Sprint(name))
	for _, v := range m.Versions {
		marker := " "
		if v.Version == m.Current {
			marker = p.green.Sprint("*")
		}
		p.printf(" %s %-5s %s %s", marker, versionLabel(v.Version), v.CreatedAt.Format("2006-01-02 15:04:05"), p.gray.Sprint(shortHash(v.Hash)))
		if v.Commit != "" {
			p.printf(" %s", v.Commit)
		}
		p.printf("\n")
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func rollbackBaseline(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: baseline rollback <name> <version>")
	}
	version, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid version %q", c.Args().Get(1))
	}
	eng, err := visualEngine(c)
	if err != nil {
		return err
	}
	v, err := eng.Rollback(c.Args().First(), version)
	if err != nil {
		return err
	}
	p := newPrinter(c)
	p.printf("%s %s is now at %s\n", p.green.Sprint("✓"), c.Args().First(), versionLabel(v.Version))
	return nil
}

func readImage(path string) (*core.Screenshot, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	shot, err := core.DecodeScreenshot(data)
	if err != nil {
		return nil, err
	}
	if !shot.HasPixels() {
		return nil, fmt.Errorf("%s is not a PNG, BMP or WebP image", path)
	}
	return shot, nil
}

func compareBaseline(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: baseline compare <name> <image>")
	}
	eng, err := visualEngine(c)
	if err != nil {
		return err
	}
	shot, err := readImage(c.Args().Get(1))
	if err != nil {
		return err
	}
	res, err := eng.Compare(c.Args().First(), shot)
	if err != nil {
		return err
	}

	p := newPrinter(c)
	switch {
	case res.NewBaseline:
		p.printf("%s %s: stored as new baseline\n", p.cyan.Sprint("+"), res.Name)
	case res.Matches:
		p.printf("%s %s: %s similarity %.4f\n", p.green.Sprint("✓"), res.Name, res.Algorithm, res.Similarity)
	default:
		p.printf("%s %s: %s similarity %.4f, %.2f%% pixels differ\n", p.red.Sprint("✗"), res.Name, res.Algorithm, res.Similarity, res.DiffPercentage)
		if res.DiffImagePath != "" {
			p.printf("  diff: %s\n", res.DiffImagePath)
		}
		return cli.Exit("", 1)
	}
	return nil
}

func updateBaseline(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: baseline update <name> <image>")
	}
	eng, err := visualEngine(c)
	if err != nil {
		return err
	}
	shot, err := readImage(c.Args().Get(1))
	if err != nil {
		return err
	}
	v, err := eng.UpdateBaseline(c.Args().First(), shot)
	if err != nil {
		return err
	}
	p := newPrinter(c)
	p.printf("%s %s saved as %s\n", p.green.Sprint("✓"), c.Args().First(), versionLabel(v.Version))
	return nil
}
