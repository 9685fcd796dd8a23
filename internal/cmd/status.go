package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/metrics"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// StatusCmd represents the shuttlewire status subcommand.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the session chain exists and is bound",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runStatus(cmd.Context(), cmd.OutOrStdout(), cfg, defaultDeps)
	},
}

func runStatus(ctx context.Context, out io.Writer, cfg config.Config, d deps) error {
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

	chain, err := method.Status(ctx, cfg.Port, family)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "chain %s/%s (%s): %s\n", chain.Table, chain.Name, chain.Family, chain.State); err != nil {
		return err
	}

	if cfg.RuleMapPath == "" {
		return nil
	}
	summary, err := metrics.SummarizeRuleMap(cfg.RuleMapPath)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "rule map %s: %d rules (%d redirect, %d return, %d loop-guarded)\n",
		cfg.RuleMapPath, summary.Rules, summary.Redirects, summary.Returns, summary.LoopGuarded)
	return err
}
