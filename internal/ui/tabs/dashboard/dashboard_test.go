package dashboard

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services"
)

func ptr[T any](v T) *T { return &v }

func newTestModel() (*Model, *app.State) {
	state := app.NewState()
	m := New(state, Config{WarningPct: 80, CriticalPct: 95, Version: "1.2.3"})
	m.SetSize(120, 200)
	return m, state
}

func loadedState(state *app.State) {
	latest := models.UsageSample{
		Timestamp:     time.Now().Add(-time.Minute),
		TokensUsed:    12500,
		RequestsCount: 40,
		TokensPerHour: 10000,
	}
	state.ApplyInitial(services.State{
		Latest:     &latest,
		History:    []models.UsageSample{{TokensPerHour: 8000}, {TokensPerHour: 9000}, latest},
		BudgetUsed: 900000,
		Quota:      1000000,
		Prediction: &models.Prediction{
			Kind:           models.PredictionExhaustion,
			Confidence:     0.9,
			HoursRemaining: ptr(10.0),
			ExhaustionTime: ptr(time.Now().Add(10 * time.Hour)),
		},
		Backend: db.Stats{Backend: db.KindSQLite, Path: "/tmp/tokenwatch.db", PrimaryError: "connection refused"},
	})
}

func TestModel_Init(t *testing.T) {
	m, _ := newTestModel()
	if m.Init() == nil {
		t.Error("Init should start the spinner")
	}
}

func TestModel_ViewLoading(t *testing.T) {
	m, _ := newTestModel()
	if !strings.Contains(m.View(), "Waiting for the first sample") {
		t.Error("view should show the spinner before the first state")
	}
}

func TestModel_View(t *testing.T) {
	m, state := newTestModel()
	loadedState(state)

	view := m.View()
	for _, want := range []string{
		"tokenwatch",
		"v1.2.3",
		"90.0%",
		"12,500",
		"10.0 h",
		"90%",
		"Storage: ",
		"sqlite",
		"/tmp/tokenwatch.db",
		"Primary unavailable: connection refused",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "Forecast") {
		t.Error("forecast card should be hidden without forecasts")
	}
}

func TestModel_ViewForecast(t *testing.T) {
	m, state := newTestModel()
	loadedState(state)
	state.ApplyEvent(events.PredictionUpdated{
		Exhaustion: &models.Prediction{Kind: models.PredictionExhaustion, Confidence: 0.3},
		Daily: []models.Prediction{
			{Kind: models.PredictionDaily, ForDate: "2026-06-02", PredictedTokens: ptr(240000.0), PredictedCost: ptr(0.48)},
			{Kind: models.PredictionDaily, ForDate: "2026-06-03", PredictedTokens: ptr(250000.0), PredictedCost: ptr(0.50)},
		},
	})

	view := m.View()
	for _, want := range []string{"Forecast", "2026-06-02", "2026-06-03", "250,000", "$0.98", "unbounded"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_ViewNoQuota(t *testing.T) {
	m, state := newTestModel()
	state.ApplyInitial(services.State{})

	view := m.View()
	if !strings.Contains(view, "No quota configured") {
		t.Error("view should explain the missing quota")
	}
	if !strings.Contains(view, "Not enough history") {
		t.Error("view should explain the missing prediction")
	}
	if !strings.Contains(view, "unavailable") {
		t.Error("view should flag missing storage")
	}
}

func TestModel_ToggleChart(t *testing.T) {
	m, state := newTestModel()
	loadedState(state)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if !m.sparkline {
		t.Fatal("c should switch to the sparkline")
	}
	if !strings.Contains(m.View(), "█") {
		t.Error("sparkline should render the peak rate")
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{0, "exhausted"},
		{0.5, "30 min"},
		{10, "10.0 h"},
		{72, "3.0 days"},
	}
	for _, tt := range tests {
		if got := formatHours(tt.hours); got != tt.want {
			t.Errorf("formatHours(%v) = %q, want %q", tt.hours, got, tt.want)
		}
	}
}

func TestModel_ShortHelp(t *testing.T) {
	m, _ := newTestModel()
	if len(m.ShortHelp()) == 0 {
		t.Error("ShortHelp should list bindings")
	}
}
