package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/metrics"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// RestoreCmd represents the shuttlewire restore subcommand.
var RestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Remove the redirect chain for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runRestore(cmd.Context(), cfg, defaultDeps)
	},
}

func runRestore(ctx context.Context, cfg config.Config, d deps) error {
	if cfg.Port == 0 {
		return errors.New("port is required")
	}
	family, err := rules.ParseFamily(cfg.Family)
	if err != nil {
		return err
	}

	method, err := newMethod(cfg, d, metrics.NewMetrics(), commandLogger())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return method.RestoreFirewall(ctx, cfg.Port, family, cfg.UDP)
}
