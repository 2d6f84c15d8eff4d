package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

// RunValidations executes the profile's post-run validations against the host
// and returns their results. A non-nil error summarises every failed rule.
func RunValidations(ctx context.Context, host *hostinfo.Host, validations []config.Validation) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(validations))
	var failedMessages []string

	for _, val := range validations {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := ValidationResult{Validation: val}

		var err error
		switch val.Type {
		case "command_exists":
			if val.CommandExists == nil {
				err = hosterrors.NewValidationError("validation.command_exists", "configuration missing", nil)
			} else {
				err = CheckCommandExists(host, val.CommandExists.Command)
			}
		case "file_exists":
			if val.FileExists == nil {
				err = hosterrors.NewValidationError("validation.file_exists", "configuration missing", nil)
			} else {
				err = CheckFileExists(val.FileExists.Path)
			}
		case "path_contains":
			if val.PathContains == nil {
				err = hosterrors.NewValidationError("validation.path_contains", "configuration missing", nil)
			} else {
				err = CheckPathContains(val.PathContains.File, val.PathContains.Text)
			}
		default:
			err = hosterrors.NewValidationError("validation.type", fmt.Sprintf("unknown validation type %q", val.Type), nil)
		}

		if err != nil {
			result.Passed = false
			result.Message = err.Error()
			result.Error = err
			failedMessages = append(failedMessages, err.Error())
		} else {
			result.Passed = true
			result.Message = "passed"
		}

		results = append(results, result)
	}

	if len(failedMessages) > 0 {
		combined := strings.Join(failedMessages, "; ")
		return results, fmt.Errorf("validations failed: %s", combined)
	}

	return results, nil
}
