package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/j-veylop/tokenwatch/internal/ui/styles"
)

// minBarWidth is the narrowest bar rendered.
const minBarWidth = 10

// BudgetBar renders consumed budget as a gradient progress bar.
type BudgetBar struct {
	progress    progress.Model
	warningPct  float64
	criticalPct float64
}

// NewBudgetBar creates a bar colored against the given alert thresholds.
func NewBudgetBar(warningPct, criticalPct float64) BudgetBar {
	return BudgetBar{
		progress: progress.New(
			progress.WithScaledGradient("#51cf66", "#ff6b6b"),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		warningPct:  warningPct,
		criticalPct: criticalPct,
	}
}

// Percent returns used as a percentage of quota. Without a quota it is 0.
func Percent(used, quota int64) float64 {
	if quota <= 0 {
		return 0
	}
	return float64(used) / float64(quota) * 100
}

// View renders "label [bar] pct  used / quota". Usage above the quota fills
// the bar.
func (b BudgetBar) View(label string, used, quota int64, width int) string {
	pct := Percent(used, quota)

	b.progress.Width = max(width-50, minBarWidth)
	bar := b.progress.ViewAs(min(pct, 100) / 100)

	pctStr := styles.UsageStyle(pct, b.warningPct, b.criticalPct).
		Width(7).Align(lipgloss.Right).Render(fmt.Sprintf("%.1f%%", pct))
	counts := styles.HelpStyle.Render(fmt.Sprintf("  %s / %s", humanize.Comma(used), humanize.Comma(quota)))

	return lipgloss.JoinHorizontal(lipgloss.Center,
		styles.ProgressLabelStyle.Render(label),
		bar,
		pctStr,
		counts,
	)
}
