package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/engine"
	"github.com/hostprep/hostprep/internal/model"
)

func TestUpdateHandlesStepStart(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{Levels: [][]string{{"step"}}}, false)
	updated, _ := m.Update(StepStartMsg{ID: "step", Time: time.Now()})
	m = updated.(Model)
	require.Equal(t, model.StatusRunning, m.steps["step"].Status)
}

func TestUpdateHandlesStepCompletion(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{Levels: [][]string{{"step"}}}, false)
	res := model.StepResult{StepID: "step", Status: model.StatusSuccess}
	updated, _ := m.Update(StepCompleteMsg{Result: res})
	m = updated.(Model)
	require.Equal(t, res.Status, m.steps["step"].Status)
	require.Equal(t, 1, m.completed)
}

func TestUpdateCountsUnsupportedStepsAsCompleted(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{Levels: [][]string{{"fw", "pkg"}}}, false)

	updated, _ := m.Update(StepCompleteMsg{Result: model.StepResult{StepID: "fw", Status: model.StatusUnsupported}})
	m = updated.(Model)
	require.Equal(t, 1, m.completed)
	require.False(t, m.finished)

	updated, _ = m.Update(StepCompleteMsg{Result: model.StepResult{StepID: "pkg", Status: model.StatusFailed}})
	m = updated.(Model)
	require.Equal(t, 2, m.completed)
	require.True(t, m.finished)
}

func TestUpdateIgnoresDuplicateCompletions(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{Levels: [][]string{{"step", "other"}}}, false)

	res := model.StepResult{StepID: "step", Status: model.StatusSkipped}
	updated, _ := m.Update(StepCompleteMsg{Result: res})
	m = updated.(Model)
	updated, _ = m.Update(StepCompleteMsg{Result: res})
	m = updated.(Model)

	require.Equal(t, 1, m.completed)
}

func TestUpdateHandlesValidationMessages(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{}, false)
	msg := ValidationMsg{Passed: false, Message: "missing path"}
	updated, _ := m.Update(msg)
	m = updated.(Model)
	require.Len(t, m.validations, 1)
	require.False(t, m.validations[0].Passed)
}

func TestUpdateHandlesTeaMessages(t *testing.T) {
	m := NewModel(&config.Config{}, &engine.ExecutionPlan{}, false)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Nil(t, cmd)
	m = updated.(Model)
	require.True(t, m.cancelled)
}
