package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctord/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	var write string
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Config prints the configuration proctord would run with: the file, then
environment overrides. With --write it saves that configuration instead; the
file extension picks TOML, JSON or YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if write != "" {
				if err := config.SaveConfig(cfg, write); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", write)
				return nil
			}
			data, err := config.Encode(cfg, "config."+format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "save the configuration to this file")
	cmd.Flags().StringVar(&format, "format", "toml", "output format: toml, json or yaml")
	return cmd
}
