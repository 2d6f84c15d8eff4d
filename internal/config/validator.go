package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern   = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	stepIDPattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	fileModePattern = regexp.MustCompile(`^0[0-7]{3}$`)
	byteSizePattern = regexp.MustCompile(`^[1-9]\d*[KMGT]?$`)

	stepTypes = map[string]struct{}{
		"package": {}, "service": {}, "conffile": {}, "firewall": {},
		"apt_repo": {}, "repo": {}, "user": {}, "swap": {},
		"line_in_file": {}, "tool": {}, "command": {},
	}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("file_mode", func(fl validator.FieldLevel) bool {
			return fileModePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("byte_size", func(fl validator.FieldLevel) bool {
			return byteSizePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-field validation on a profile.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return hosterrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(cfg.Steps))

	for i, step := range cfg.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return hosterrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}

		if err := ValidateStep(step); err != nil {
			return err
		}

		stepIndex[step.ID] = i
	}

	for i, step := range cfg.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := stepIndex[dep]; !ok {
				return hosterrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("references unknown step %q", dep), nil)
			}
		}
	}

	if cycle := detectCycle(cfg.Steps); len(cycle) > 0 {
		return hosterrors.NewValidationError("steps", fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	for i, validation := range cfg.Validations {
		if err := validateValidation(validation, i); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStep validates a single step independent of other configuration
// properties.
func ValidateStep(step Step) error {
	v := validatorInstance()
	if err := v.Struct(step); err != nil {
		return convertValidationError(err)
	}

	if _, ok := stepTypes[step.Type]; !ok {
		return hosterrors.NewValidationError(step.ID, fmt.Sprintf("unknown step type %q", step.Type), nil)
	}

	payload, err := stepPayload(step)
	if err != nil {
		return err
	}
	if err := v.Struct(payload); err != nil {
		return convertValidationError(err)
	}

	return validatePayloadRules(step)
}

// stepPayload returns the typed payload matching the step's discriminator.
func stepPayload(step Step) (any, error) {
	missing := func() error {
		return hosterrors.NewValidationError(step.ID, fmt.Sprintf("%s configuration is required", step.Type), nil)
	}

	switch step.Type {
	case "package":
		if step.Package == nil {
			return nil, missing()
		}
		return step.Package, nil
	case "service":
		if step.Service == nil {
			return nil, missing()
		}
		return step.Service, nil
	case "conffile":
		if step.Conffile == nil {
			return nil, missing()
		}
		return step.Conffile, nil
	case "firewall":
		if step.Firewall == nil {
			return nil, missing()
		}
		return step.Firewall, nil
	case "apt_repo":
		if step.AptRepo == nil {
			return nil, missing()
		}
		return step.AptRepo, nil
	case "repo":
		if step.Repo == nil {
			return nil, missing()
		}
		return step.Repo, nil
	case "user":
		if step.User == nil {
			return nil, missing()
		}
		return step.User, nil
	case "swap":
		if step.Swap == nil {
			return nil, missing()
		}
		return step.Swap, nil
	case "line_in_file":
		if step.LineInFile == nil {
			return nil, missing()
		}
		return step.LineInFile, nil
	case "tool":
		if step.Tool == nil {
			return nil, missing()
		}
		return step.Tool, nil
	case "command":
		if step.Command == nil {
			return nil, missing()
		}
		return step.Command, nil
	}

	return nil, hosterrors.NewValidationError(step.ID, fmt.Sprintf("unknown step type %q", step.Type), nil)
}

// validatePayloadRules covers cross-field rules the tag validator cannot express.
func validatePayloadRules(step Step) error {
	switch step.Type {
	case "line_in_file":
		cfg := step.LineInFile
		state := cfg.State
		if state == "" {
			state = "present"
		}
		if state == "present" && strings.TrimSpace(cfg.Line) == "" {
			return hosterrors.NewValidationError(step.ID, "line is required when state is present", nil)
		}
		if state == "absent" && strings.TrimSpace(cfg.Match) == "" {
			return hosterrors.NewValidationError(step.ID, "match is required when state is absent", nil)
		}
		if cfg.Match != "" {
			if _, err := regexp.Compile(cfg.Match); err != nil {
				return hosterrors.NewValidationError(step.ID, fmt.Sprintf("invalid match pattern: %v", err), err)
			}
		}
	case "firewall":
		cfg := step.Firewall
		if cfg.DefaultIncoming == "" && cfg.DefaultOutgoing == "" && len(cfg.AllowFrom) == 0 && len(cfg.AllowPorts) == 0 {
			return hosterrors.NewValidationError(step.ID, "firewall step declares no policies or rules", nil)
		}
	case "apt_repo":
		cfg := step.AptRepo
		for distro, codenames := range cfg.Distributions {
			if len(codenames) == 0 {
				return hosterrors.NewValidationError(step.ID, fmt.Sprintf("distribution %q lists no codenames", distro), nil)
			}
		}
	}

	return nil
}

func validateValidation(val Validation, index int) error {
	v := validatorInstance()
	if err := v.Struct(val); err != nil {
		return convertValidationError(err)
	}

	switch val.Type {
	case "command_exists":
		if val.CommandExists == nil {
			return hosterrors.NewValidationError(fieldForValidation(index, "command"), "command is required", nil)
		}
		if err := v.Struct(val.CommandExists); err != nil {
			return convertValidationError(err)
		}
	case "file_exists":
		if val.FileExists == nil {
			return hosterrors.NewValidationError(fieldForValidation(index, "path"), "path is required", nil)
		}
		if err := v.Struct(val.FileExists); err != nil {
			return convertValidationError(err)
		}
	case "path_contains":
		if val.PathContains == nil {
			return hosterrors.NewValidationError(fieldForValidation(index, "file"), "file and text are required", nil)
		}
		if err := v.Struct(val.PathContains); err != nil {
			return convertValidationError(err)
		}
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return hosterrors.NewValidationError(field, msg, err)
	}

	return hosterrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForStep(index int, field string) string {
	return fmt.Sprintf("steps[%d].%s", index, field)
}

func fieldForValidation(index int, field string) string {
	return fmt.Sprintf("validations[%d].%s", index, field)
}
