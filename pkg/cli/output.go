package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/executor"
)

// getColor returns a color that prints plain text when noColor is set.
func getColor(noColor bool, attributes ...color.Attribute) *color.Color {
	if noColor {
		c := color.New()
		c.DisableColor()
		return c
	}
	c := color.New(attributes...)
	c.EnableColor()
	return c
}

// printer writes run output. Task lines may arrive from several workers.
type printer struct {
	w  io.Writer
	mu sync.Mutex

	green, red, yellow, cyan, gray, bold *color.Color
}

func newPrinter(c *cli.Context) *printer {
	noColor := c.Bool("no-color") || !isTerminal(c.App.Writer)
	return &printer{
		w:      c.App.Writer,
		green:  getColor(noColor, color.FgGreen),
		red:    getColor(noColor, color.FgRed),
		yellow: getColor(noColor, color.FgYellow),
		cyan:   getColor(noColor, color.FgCyan),
		gray:   getColor(noColor, color.FgHiBlack),
		bold:   getColor(noColor, color.Bold),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// statusLabel returns the symbol and color for a status.
func (p *printer) statusLabel(s core.TestStatus) (string, *color.Color) {
	switch s {
	case core.StatusPassed:
		return "✓ PASS", p.green
	case core.StatusFailed:
		return "✗ FAIL", p.red
	case core.StatusTimedOut:
		return "⏱ TIME", p.red
	case core.StatusQuarantined:
		return "☢ QUAR", p.yellow
	default:
		return "- SKIP", p.cyan
	}
}

func (p *printer) taskEnd(res executor.TaskResult) {
	label, c := p.statusLabel(res.Status)
	retries := ""
	if res.Attempts > 1 {
		retries = fmt.Sprintf(" after %d attempts", res.Attempts)
	}
	p.printf("  %s %s %s\n", c.Sprint(label), taskKey(res), p.gray.Sprintf("(%s%s, worker %d)", formatDuration(res.Duration), retries, res.WorkerID))
	if res.Error != "" && res.Status.IsFailure() {
		p.printf("      %s %s\n", p.gray.Sprint("╰─"), res.Error)
	}
}

func (p *printer) summary(res *executor.RunResult) {
	const width = 78
	p.printf("\n%s\n", strings.Repeat("═", width))
	p.printf("  %-50s %8s %6s %10s\n", "Task", "Status", "Tries", "Duration")
	p.printf("%s\n", strings.Repeat("─", width))
	for _, t := range res.Tasks {
		label, c := p.statusLabel(t.Status)
		name := taskKey(t)
		if len(name) > 50 {
			name = name[:47] + "..."
		}
		p.printf("  %-50s %s %6d %10s\n", name, c.Sprintf("%8s", label), t.Attempts, formatDuration(t.Duration))
	}
	p.printf("%s\n", strings.Repeat("─", width))

	total := p.green
	if !res.Success() {
		total = p.red
	}
	p.printf("  %s %s\n", p.bold.Sprint("TOTAL"), total.Sprintf("%d/%d passed", res.Passed, res.Total))
	if res.Failed+res.TimedOut > 0 {
		p.printf("  %s\n", p.red.Sprintf("%d failed, %d timed out", res.Failed, res.TimedOut))
	}
	if res.Skipped+res.Quarantined > 0 {
		p.printf("  %s\n", p.cyan.Sprintf("%d skipped, %d quarantined", res.Skipped, res.Quarantined))
	}
	p.printf("  %s\n", p.gray.Sprintf("run %s, shard %s, seed %d, %d workers, %s",
		res.RunID, res.Shard, res.Seed, res.Workers, formatDuration(res.Duration)))
	p.printf("%s\n", strings.Repeat("═", width))
}

func taskKey(r executor.TaskResult) string {
	if r.Suite == "" {
		return r.Name
	}
	return r.Suite + "/" + r.Name
}

// formatDuration shows milliseconds below a second and seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
