package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4D96FF"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#555555")).
			Padding(0, 1)
)

// Render formats the summary for a terminal.
func (s *Summary) Render() string {
	succeeded, failed := s.Counts()
	results := s.Sorted()

	s.mu.Lock()
	elapsed := s.FinishedAt.Sub(s.StartedAt)
	if s.FinishedAt.IsZero() {
		elapsed = time.Since(s.StartedAt)
	}
	runErr := s.Err
	bundles := len(s.Bundles)
	header := fmt.Sprintf("%s → %s in %s windows",
		s.Earliest.Format("2006-01-02T15:04:05"),
		s.Latest.Format("2006-01-02T15:04:05"),
		s.RangeSpec,
	)
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString(titleStyle.Render("cxe helper run"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(header))
	b.WriteString("\n\n")

	for _, r := range results {
		mark := okStyle.Render("✓")
		detail := r.BundlePath
		if r.Err != nil {
			mark = failStyle.Render("✗")
			detail = r.Err.Error()
		}
		fmt.Fprintf(&b, "%s %-3s %s  %s %s\n",
			mark,
			r.Kind,
			r.Window.Stamp(),
			dimStyle.Render(r.Duration.Round(time.Second).String()),
			detail,
		)
	}

	b.WriteString("\n")
	status := okStyle.Render(fmt.Sprintf("%d succeeded", succeeded))
	if failed > 0 {
		status += ", " + failStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintf(&b, "%s, %d bundles, %s", status, bundles, elapsed.Round(time.Second))
	if runErr != nil {
		b.WriteString("\n")
		b.WriteString(failStyle.Render(runErr.Error()))
	}

	return boxStyle.Render(b.String())
}
