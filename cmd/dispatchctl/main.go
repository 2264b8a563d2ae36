// Command dispatchctl is a demo host for the dispatch engine: it loads a
// YAML mode map from disk, resolves its action keys against a small
// built-in action table, and lets you feed it raw input-event names from
// an interactive prompt while watching what fires.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inputdispatch/internal/obslog"
	"inputdispatch/internal/registry"
	"inputdispatch/internal/settings"
	"inputdispatch/internal/timer"
)

var (
	configPath string
	envPath    string
	logLevel   string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Drive the input dispatch engine from a terminal",
		Long: `dispatchctl loads a YAML mode map and lets you simulate raw input
events against it through an interactive prompt (lines or raw keystrokes).`,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "cmd/dispatchctl/modes.yaml", "path to the mode-map YAML file")
	root.PersistentFlags().StringVar(&envPath, "env", "", "optional .env file with INPUT_MAP_* overrides")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pretty-print every dispatched event payload")

	root.AddCommand(runCmd(), legendCmd(), modesCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		os.Exit(1)
	}
}

// buildAmbient wires the settings provider, the YAML-backed config
// provider and the dispatch engine's ambient instance the way a real host
// embedding this module would, modulo the action table being a small
// demo set instead of a production one. The returned provider owns a
// filesystem watcher; callers must Close it when done.
func buildAmbient() (*registry.Ambient, *registry.FileProvider, error) {
	obslog.Init(logLevel)

	s := settings.Resolve(settings.NewEnvProvider(envPath))
	sched := timer.NewClock()

	provider, err := registry.NewFileProvider(configPath, resolveDemoAction)
	if err != nil {
		return nil, nil, err
	}

	amb, err := registry.NewAmbient(sched, s, provider)
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return amb, provider, nil
}
