package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hostprep/hostprep/configs"
	"github.com/hostprep/hostprep/internal/config"
)

// loadProfile parses the named config file, or the embedded default profile
// when no path is given.
func loadProfile(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.ParseBytes("configs/bootstrap.yaml", configs.Bootstrap)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", abs)
	}

	return config.ParseConfig(abs)
}
