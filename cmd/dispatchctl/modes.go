package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func modesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the configured modes and the current one",
		RunE: func(cmd *cobra.Command, args []string) error {
			amb, provider, err := buildAmbient()
			if err != nil {
				return err
			}
			defer provider.Close()

			current := amb.Mode.Current()
			mark := color.New(color.FgGreen, color.Bold).SprintFunc()

			for _, name := range amb.Mode.Modes() {
				if name == current {
					cmd.Println(mark("* " + name))
					continue
				}
				cmd.Println("  " + name)
			}
			return nil
		},
	}
}
