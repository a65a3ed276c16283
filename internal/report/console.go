package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/audiolibrelab/fluidcycle/internal/playback"
)

// Console prints playback progress in the experiment log format:
//
//	... Elapsed time: 1.20s ---- 12.00% of total duration
//
// On a terminal the progress line is rewritten in place.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	inPlace  bool
	pending  bool
	status   lipgloss.Style
	done     lipgloss.Style
	failure  lipgloss.Style
	progress lipgloss.Style
}

// NewConsole creates a reporter writing to out
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:      out,
		inPlace:  isTerminal(out),
		status:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")),
		done:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#a6e3a1")),
		failure:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#f38ba8")),
		progress: r.NewStyle().Foreground(lipgloss.Color("#cdd6f4")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var statusMessages = map[playback.Status]string{
	playback.StatusInitializing: "Opening pressure controller",
	playback.StatusRunning:      "Experiment running",
	playback.StatusZeroing:      "Setting all channels to 0 mbar",
}

func (c *Console) OnStatus(status playback.Status) {
	msg, ok := statusMessages[status]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()
	fmt.Fprintln(c.out, c.status.Render("» "+msg))
}

func (c *Console) OnProgress(p playback.Progress) {
	line := c.progress.Render(ProgressLine(p))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inPlace {
		fmt.Fprint(c.out, "\r"+line)
		c.pending = true
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *Console) OnFinish(res playback.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLine()

	switch {
	case err == nil:
		fmt.Fprintln(c.out, c.done.Render(DoneLine))
	case errors.Is(err, playback.ErrInterrupted):
		fmt.Fprintln(c.out, c.failure.Render(fmt.Sprintf("... Experiment interrupted after %.2fs (%d ticks)", res.Elapsed.Seconds(), res.Ticks)))
	default:
		fmt.Fprintln(c.out, c.failure.Render(fmt.Sprintf("... Experiment failed after %d ticks: %v", res.Ticks, err)))
	}
}

// breakLine ends an in-place progress line. Callers hold c.mu.
func (c *Console) breakLine() {
	if c.pending {
		fmt.Fprintln(c.out)
		c.pending = false
	}
}

// DoneLine is printed when a run completes
const DoneLine = "... 100% of total duration ---- Experiment done"

// ProgressLine formats one tick report
func ProgressLine(p playback.Progress) string {
	return fmt.Sprintf("... Elapsed time: %.2fs ---- %.2f%% of total duration", p.Elapsed.Seconds(), p.Percent())
}
