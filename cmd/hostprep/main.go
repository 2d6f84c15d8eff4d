package main

import (
	"fmt"
	"os"

	"github.com/hostprep/hostprep/internal/logger"
	"github.com/hostprep/hostprep/internal/plugin"
)

func main() {
	log, err := logger.New(logger.Options{Level: "info", HumanReadable: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	registry := plugin.NewPluginRegistry(log)
	if err := RegisterPlugins(registry); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare plugins: %v\n", err)
		os.Exit(1)
	}

	setAppRegistry(registry)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
