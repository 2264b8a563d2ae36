package main

import (
	"fmt"
	"sort"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"inputdispatch/internal/settings"
)

// dumpCmd pretty-prints the resolved settings and every configured
// mode's legend — useful for a host developer sanity-checking a YAML mode
// map before wiring real actions behind it.
func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Pretty-print resolved settings and every mode's legend",
		RunE: func(cmd *cobra.Command, args []string) error {
			amb, provider, err := buildAmbient()
			if err != nil {
				return err
			}
			defer provider.Close()

			s := settings.Resolve(settings.NewEnvProvider(envPath))
			cmd.Println("settings:")
			fmt.Fprintf(cmd.OutOrStdout(), "%# v\n", pretty.Formatter(s))

			names := amb.Mode.Modes()
			sort.Strings(names)
			for _, name := range names {
				legend, err := amb.Mode.Legend(name)
				if err != nil {
					return err
				}
				cmd.Printf("\nmode %q legend:\n", name)
				fmt.Fprintf(cmd.OutOrStdout(), "%# v\n", pretty.Formatter(legend))
			}
			return nil
		},
	}
}
