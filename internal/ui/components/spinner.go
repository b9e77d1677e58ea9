package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/tokenwatch/internal/ui/styles"
)

// LoadingSpinner fills a tab while it waits for the monitor's first state.
// After a few seconds it also shows how long it has been waiting, so a stuck
// usage source is visible without opening the log.
type LoadingSpinner struct {
	spinner spinner.Model
	label   string
	since   time.Time
	now     func() time.Time
	style   lipgloss.Style
}

// showElapsedAfter is the wait before the elapsed time is shown.
const showElapsedAfter = 3 * time.Second

// NewSpinner creates a spinner that started waiting now.
func NewSpinner(label string) LoadingSpinner {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return LoadingSpinner{
		spinner: s,
		label:   label,
		since:   time.Now(),
		now:     time.Now,
		style:   lipgloss.NewStyle().Foreground(styles.TextSecondary),
	}
}

func (l LoadingSpinner) Init() tea.Cmd {
	return l.spinner.Tick
}

func (l LoadingSpinner) Update(msg tea.Msg) (LoadingSpinner, tea.Cmd) {
	var cmd tea.Cmd
	l.spinner, cmd = l.spinner.Update(msg)
	return l, cmd
}

// Waited is the time since the spinner was created, truncated to seconds.
func (l LoadingSpinner) Waited() time.Duration {
	return l.now().Sub(l.since).Truncate(time.Second)
}

// View renders the spinner and label centered in width x height.
func (l LoadingSpinner) View(width, height int) string {
	text := l.label
	if w := l.Waited(); w >= showElapsedAfter {
		text = fmt.Sprintf("%s (%s)", text, w)
	}
	return styles.CenterBoth(l.spinner.View()+" "+l.style.Render(text), width, height)
}
