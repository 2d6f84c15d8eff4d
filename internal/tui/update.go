package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/tui/components"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, nil
	case StepStartMsg:
		m.ensureStep(msg.ID)
		step := m.steps[msg.ID]
		step.Status = model.StatusRunning
		m.steps[msg.ID] = step
		return m, nil
	case StepCompleteMsg:
		id := msg.Result.StepID
		if id == "" {
			return m, nil
		}
		m.ensureStep(id)
		previouslyCompleted := isTerminal(m.steps[id].Status)
		m.steps[id] = msg.Result
		if !previouslyCompleted {
			m.completed++
			m.markFinishedIfComplete()
		}
		return m, nil
	case ValidationMsg:
		m.validations = append(m.validations, components.ValidationStatus{Passed: msg.Passed, Message: msg.Message})
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancelled = true
			m.finished = true
			return m, nil
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}

func isTerminal(status string) bool {
	switch status {
	case model.StatusSuccess, model.StatusSkipped, model.StatusUnsupported,
		model.StatusFailed, model.StatusWouldCreate, model.StatusWouldUpdate:
		return true
	}
	return false
}
