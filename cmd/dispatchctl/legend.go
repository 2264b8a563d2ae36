package main

import (
	"sort"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

func legendCmd() *cobra.Command {
	var modeName string

	cmd := &cobra.Command{
		Use:   "legend",
		Short: "Print the labeled inputs for a mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			amb, provider, err := buildAmbient()
			if err != nil {
				return err
			}
			defer provider.Close()

			name := modeName
			if name == "" {
				name = amb.Mode.Current()
			}

			legend, err := amb.Mode.Legend(name)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(legend))
			for k := range legend {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
			tbl := table.New("Input", "Label")
			tbl.WithHeaderFormatter(headerFmt)
			for _, k := range keys {
				tbl.AddRow(k, legend[k])
			}
			tbl.Print()
			return nil
		},
	}

	cmd.Flags().StringVar(&modeName, "mode", "", "mode to show (defaults to the current mode)")
	return cmd
}
