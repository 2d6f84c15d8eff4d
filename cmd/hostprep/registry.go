package main

import (
	"sync"

	"github.com/hostprep/hostprep/internal/plugin"
	aptrepoplugin "github.com/hostprep/hostprep/internal/plugins/aptrepo"
	commandplugin "github.com/hostprep/hostprep/internal/plugins/command"
	conffileplugin "github.com/hostprep/hostprep/internal/plugins/conffile"
	firewallplugin "github.com/hostprep/hostprep/internal/plugins/firewall"
	lineinfileplugin "github.com/hostprep/hostprep/internal/plugins/lineinfile"
	packageplugin "github.com/hostprep/hostprep/internal/plugins/package"
	repoplugin "github.com/hostprep/hostprep/internal/plugins/repo"
	serviceplugin "github.com/hostprep/hostprep/internal/plugins/service"
	swapplugin "github.com/hostprep/hostprep/internal/plugins/swap"
	toolplugin "github.com/hostprep/hostprep/internal/plugins/tool"
	userplugin "github.com/hostprep/hostprep/internal/plugins/user"
)

var (
	appRegistryMu sync.RWMutex
	appRegistry   *plugin.PluginRegistry
)

func setAppRegistry(registry *plugin.PluginRegistry) {
	appRegistryMu.Lock()
	defer appRegistryMu.Unlock()
	appRegistry = registry
}

func getAppRegistry() *plugin.PluginRegistry {
	appRegistryMu.RLock()
	defer appRegistryMu.RUnlock()
	return appRegistry
}

// RegisterPlugins wires every directive plugin into the registry.
func RegisterPlugins(registry *plugin.PluginRegistry) error {
	plugins := []plugin.Plugin{
		packageplugin.New(),
		serviceplugin.New(),
		conffileplugin.New(),
		firewallplugin.New(),
		aptrepoplugin.New(),
		repoplugin.New(),
		userplugin.New(),
		swapplugin.New(),
		lineinfileplugin.New(),
		toolplugin.New(),
		commandplugin.New(),
	}

	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	return registry.ValidateDependencies()
}
