package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepResultChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   bool
	}{
		{StatusSuccess, true},
		{StatusSkipped, false},
		{StatusUnsupported, false},
		{StatusFailed, false},
		{StatusWouldUpdate, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			res := StepResult{StepID: "swapfile", Status: tt.status}
			require.Equal(t, tt.want, res.Changed())
		})
	}
}

func TestStepResultCarriesError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("ufw exited 1")
	result := StepResult{
		StepID:    "firewall_rules",
		Status:    StatusFailed,
		Error:     err,
		Duration:  time.Second,
		Timestamp: time.Now(),
	}

	require.Equal(t, "firewall_rules", result.StepID)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, err, result.Error)
}

func TestVerificationStatus_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status VerificationStatus
		want   bool
	}{
		{"satisfied is valid", StatusSatisfied, true},
		{"missing is valid", StatusMissing, true},
		{"drifted is valid", StatusDrifted, true},
		{"blocked is valid", StatusBlocked, true},
		{"unknown is valid", StatusUnknown, true},
		{"invalid status", VerificationStatus("invalid"), false},
		{"empty status", VerificationStatus(""), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestVerificationSummaryCounters(t *testing.T) {
	t.Parallel()

	summary := &VerificationSummary{}
	summary.Add(VerificationResult{StepID: "a", Status: StatusSatisfied})
	summary.Add(VerificationResult{StepID: "b", Status: StatusMissing})
	summary.Add(VerificationResult{StepID: "c", Status: StatusDrifted})
	summary.Add(VerificationResult{StepID: "d", Status: StatusBlocked})
	summary.Add(VerificationResult{StepID: "e", Status: StatusUnknown})

	require.Equal(t, 5, summary.TotalSteps)
	require.Equal(t, 1, summary.Satisfied)
	require.Equal(t, 1, summary.Missing)
	require.Equal(t, 1, summary.Drifted)
	require.Equal(t, 1, summary.Blocked)
	require.Equal(t, 1, summary.Unknown)
	require.Len(t, summary.Results, 5)
}

func TestVerificationSummary_AllSatisfied(t *testing.T) {
	t.Parallel()

	t.Run("true when every step satisfied", func(t *testing.T) {
		t.Parallel()
		summary := &VerificationSummary{TotalSteps: 4, Satisfied: 4}
		require.True(t, summary.AllSatisfied())
		require.False(t, summary.NeedsApply())
		require.Equal(t, 0, summary.ExitCode())
	})

	t.Run("false when drift present", func(t *testing.T) {
		t.Parallel()
		summary := &VerificationSummary{TotalSteps: 4, Satisfied: 3, Drifted: 1}
		require.False(t, summary.AllSatisfied())
		require.True(t, summary.NeedsApply())
		require.Equal(t, 1, summary.ExitCode())
	})

	t.Run("true for zero steps", func(t *testing.T) {
		t.Parallel()
		summary := &VerificationSummary{}
		require.True(t, summary.AllSatisfied())
	})

	t.Run("blocked steps need no apply", func(t *testing.T) {
		t.Parallel()
		summary := &VerificationSummary{}
		summary.Add(VerificationResult{StepID: "a", Status: StatusSatisfied})
		summary.Add(VerificationResult{StepID: "b", Status: StatusBlocked})
		require.False(t, summary.AllSatisfied())
		require.False(t, summary.NeedsApply())
		require.Equal(t, 0, summary.ExitCode())
	})
}
