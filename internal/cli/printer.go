package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/writefactory/internal/progress"
)

var (
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cachedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	retryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// progressPrinter writes one line per progress event.
type progressPrinter struct {
	w io.Writer
}

func (p progressPrinter) print(ev progress.Event) {
	counter := stepStyle.Render(fmt.Sprintf("[%d/%d]", ev.StepIndex, ev.StepCount))
	switch {
	case ev.Type == progress.TypeResult && ev.Status == "completed":
		fmt.Fprintf(p.w, "%s %s\n", doneStyle.Render("done"), titleStyle.Render(ev.ResultID))
	case ev.Type == progress.TypeResult:
		fmt.Fprintf(p.w, "%s %s (%s)\n", failStyle.Render("failed"), ev.Error, ev.ErrorKind)
	case ev.Status == "failed":
		fmt.Fprintf(p.w, "%s %s %s\n", counter, failStyle.Render("✗ "+ev.Step), ev.ErrorKind)
	case ev.Status == "completed" && ev.Cached:
		fmt.Fprintf(p.w, "%s %s %s\n", counter, doneStyle.Render("✓ "+ev.Step), cachedStyle.Render("(cached)"))
	case ev.Status == "completed":
		fmt.Fprintf(p.w, "%s %s\n", counter, doneStyle.Render("✓ "+ev.Step))
	case ev.Message != "":
		fmt.Fprintf(p.w, "%s %s %s\n", counter, ev.Step, retryStyle.Render(ev.Message))
	default:
		fmt.Fprintf(p.w, "%s %s…\n", counter, ev.Step)
	}
}
