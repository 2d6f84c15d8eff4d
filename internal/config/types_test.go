package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceStepWantEnabled(t *testing.T) {
	t.Parallel()

	boolPtr := func(v bool) *bool { return &v }

	tests := []struct {
		name string
		step ServiceStep
		want bool
	}{
		{"running defaults to enabled", ServiceStep{State: "running"}, true},
		{"stopped defaults to disabled", ServiceStep{State: "stopped"}, false},
		{"explicit enabled wins", ServiceStep{State: "stopped", Enabled: boolPtr(true)}, true},
		{"explicit disabled wins", ServiceStep{State: "running", Enabled: boolPtr(false)}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.step.WantEnabled())
		})
	}
}

func TestSwapStepFstabPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/etc/fstab", (&SwapStep{Path: "/swapfile", Size: "3G"}).FstabPath())
	require.Equal(t, "/tmp/fstab", (&SwapStep{Path: "/swapfile", Size: "3G", Fstab: "/tmp/fstab"}).FstabPath())
}

func TestStepMap(t *testing.T) {
	t.Parallel()

	steps := []Step{
		{ID: "one", Type: "command"},
		{ID: "two", Type: "package"},
	}

	m := StepMap(steps)
	require.Len(t, m, 2)
	require.Equal(t, "package", m["two"].Type)
}
