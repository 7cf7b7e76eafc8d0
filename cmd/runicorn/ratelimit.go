package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runicorn/runicorn/internal/config"
)

func newRateLimitCmd(storageOverride, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate-limit",
		Short: "Inspect or initialize the rate_limit.json document",
	}

	cmd.AddCommand(newRateLimitShowCmd(storageOverride, configPath))
	cmd.AddCommand(newRateLimitInitCmd(storageOverride, configPath))

	return cmd
}

func newRateLimitShowCmd(storageOverride, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective rate-limit configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			rlCfg, err := config.LoadRateLimitConfig(cfg.RateLimitConfigPath)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rlCfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal rate limit config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newRateLimitInitCmd(storageOverride, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default rate_limit.json if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *storageOverride)
			if err != nil {
				return err
			}
			defaults := config.DefaultRateLimitConfig()
			data, err := json.MarshalIndent(defaults, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal defaults: %w", err)
			}
			if err := writeFileIfAbsent(cfg.RateLimitConfigPath, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default rate limit config to %s\n", cfg.RateLimitConfigPath)
			return nil
		},
	}
}
