package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a profile from disk, validates it, and returns the
// resulting model.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hosterrors.NewParseError(path, 0, err)
	}

	return ParseBytes(path, data)
}

// ParseBytes parses and validates an in-memory profile. The embedded default
// profile goes through this path.
func ParseBytes(path string, data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, hosterrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
