package alerts

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/models"
)

func runes(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newTestModel(alerts ...models.Alert) (*Model, *app.State) {
	state := app.NewState()
	// ApplyEvent prepends, so the last alert given ends up first.
	for _, a := range alerts {
		state.ApplyEvent(events.AlertCreated{Alert: a})
	}
	m := New(state)
	m.SetSize(140, 40)
	return m, state
}

func sampleAlerts() []models.Alert {
	now := time.Now()
	return []models.Alert{
		{ID: "old", Type: models.AlertUsageWarning, Severity: models.SeverityWarning,
			Title: "Usage warning", Message: "80.0% of budget used", Timestamp: now.Add(-time.Hour), Acknowledged: true},
		{ID: "new", Type: models.AlertUsageCritical, Severity: models.SeverityCritical,
			Title: "Usage critical", Message: "96.0% of budget used", Timestamp: now},
	}
}

func TestView_Empty(t *testing.T) {
	m, _ := newTestModel()
	view := m.View()
	if !strings.Contains(view, "No alerts") {
		t.Error("empty view should say there are no alerts")
	}
	if !strings.Contains(view, "0 alerts, 0 unacknowledged") {
		t.Error("subtitle should count alerts")
	}
}

func TestView_List(t *testing.T) {
	m, _ := newTestModel(sampleAlerts()...)
	view := m.View()

	for _, want := range []string{"usage_critical", "usage_warning", "acked", "open", "2 alerts, 1 unacknowledged", "Usage critical"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestUpdate_AcknowledgeSelected(t *testing.T) {
	m, _ := newTestModel(sampleAlerts()...)

	_, cmd := m.Update(runes('a'))
	if cmd == nil {
		t.Fatal("acknowledging an open alert should return a command")
	}
	msg, ok := cmd().(app.AcknowledgeMsg)
	if !ok {
		t.Fatal("expected AcknowledgeMsg")
	}
	if msg.ID != "new" {
		t.Errorf("ID = %q, want new", msg.ID)
	}
}

func TestUpdate_AcknowledgedAlertIsNoop(t *testing.T) {
	m, _ := newTestModel(sampleAlerts()...)

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	a, ok := m.Selected()
	if !ok || a.ID != "old" {
		t.Fatalf("selected = %+v, want old", a)
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("acknowledged alert should not be acknowledged again")
	}
}

func TestUpdate_Filter(t *testing.T) {
	m, state := newTestModel(sampleAlerts()...)

	m.Update(runes('u'))
	if !m.onlyOpen {
		t.Fatal("u should enable the filter")
	}
	if len(m.visible) != 1 || m.visible[0].ID != "new" {
		t.Errorf("visible = %+v, want only new", m.visible)
	}

	state.MarkAcknowledged("new")
	if !strings.Contains(m.View(), "No alerts") {
		t.Error("filtered view should be empty once everything is acknowledged")
	}
	if _, ok := m.Selected(); ok {
		t.Error("nothing should be selected in an empty list")
	}
}

func TestUpdate_NewAlertsAppear(t *testing.T) {
	m, state := newTestModel()
	state.ApplyEvent(events.AlertCreated{Alert: models.Alert{ID: "x", Type: models.AlertHighRate, Severity: models.SeverityInfo}})

	m.Update(nil)
	if len(m.visible) != 1 {
		t.Errorf("visible = %d, want 1", len(m.visible))
	}
}

func TestShortHelp(t *testing.T) {
	m, _ := newTestModel()
	if len(m.ShortHelp()) != 4 {
		t.Errorf("ShortHelp = %d bindings, want 4", len(m.ShortHelp()))
	}
}
