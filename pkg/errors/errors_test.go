package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorIncludesLine(t *testing.T) {
	t.Parallel()

	err := NewParseError("bootstrap.yaml", 12, fmt.Errorf("bad indentation"))
	require.EqualError(t, err, "parse error: bootstrap.yaml:12: bad indentation")

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, 12, parseErr.Line)
}

func TestValidationErrorWithField(t *testing.T) {
	t.Parallel()

	err := NewValidationError("steps[0].id", "duplicate step id", nil)
	require.EqualError(t, err, "validation error: steps[0].id: duplicate step id")
}

func TestExecutionErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("apt-get exited 100")
	err := NewExecutionError("install_base_packages", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "install_base_packages")
}

func TestPrivilegeErrorMentionsUID(t *testing.T) {
	t.Parallel()

	err := NewPrivilegeError(1000)
	require.Contains(t, err.Error(), "uid 1000")
	require.Contains(t, err.Error(), "sudo")
}
