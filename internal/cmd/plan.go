package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/metrics"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// PlanCmd represents the shuttlewire plan subcommand.
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the rules setup would install without changing the firewall",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runPlan(cmd.Context(), cmd.OutOrStdout(), cfg, defaultDeps)
	},
}

func runPlan(ctx context.Context, out io.Writer, cfg config.Config, d deps) error {
	session, err := cfg.Session()
	if err != nil {
		return err
	}

	method, err := newMethod(cfg, d, metrics.NewMetrics(), commandLogger())
	if err != nil {
		return err
	}

	compiled, err := method.Plan(ctx, session.Port, session.DNSPort, session.Nameservers, session.Family, session.Subnets, session.UDP)
	if err != nil {
		return err
	}
	return writePlan(out, iptables.ChainName(session.Port), session.Family, compiled)
}

func writePlan(out io.Writer, chain string, family rules.Family, compiled []rules.Rule) error {
	if _, err := fmt.Fprintf(out, "# %s/%s (%s)\n", iptables.NATTable, chain, family); err != nil {
		return err
	}
	for i, rule := range compiled {
		if _, err := fmt.Fprintf(out, "%d %s\n", i+1, rule); err != nil {
			return err
		}
	}
	return nil
}
