package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v2"

	"github.com/runicorn/runicorn/internal/config"
)

func newConfigCmd(storageOverride, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or initialize the effective Runicorn configuration",
	}

	cmd.AddCommand(newConfigShowCmd(storageOverride, configPath))
	cmd.AddCommand(newConfigInitCmd(configPath))

	return cmd
}

func newConfigShowCmd(storageOverride, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration (file < env < --storage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config.yaml if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return argErrorf("config file already exists at %s (use --force to overwrite)", path)
				}
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
