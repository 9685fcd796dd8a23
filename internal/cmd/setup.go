package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/metrics"
	"github.com/denniswebb/shuttlewire/internal/monitor"
	"github.com/denniswebb/shuttlewire/internal/nat"
)

// SetupCmd represents the shuttlewire setup subcommand.
var SetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install the redirect chain for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := commandLogger()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				logger.Info("shutdown signal received", slog.String("signal", sig.String()))
				cancel()
			case <-ctx.Done():
			}
		}()

		return runSetup(ctx, cfg, defaultDeps, viper.GetBool("hold"), logger)
	},
}

func init() {
	SetupCmd.Flags().Bool("hold", false, "Keep running, serve metrics and restore on SIGINT/SIGTERM")
	SetupCmd.Flags().String("metrics-addr", ":9090", "Listen address for /metrics and /healthz while holding")
	SetupCmd.Flags().Duration("check-interval", 10*time.Second, "How often a held session verifies its chain is still bound")

	for _, name := range []string{"hold", "metrics-addr", "check-interval"} {
		if err := viper.BindPFlag(name, SetupCmd.Flags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func runSetup(ctx context.Context, cfg config.Config, d deps, hold bool, logger *slog.Logger) error {
	session, err := cfg.Session()
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	health := metrics.NewHealthChecker()

	method, err := newMethod(cfg, d, m, logger)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	err = setupSession(opCtx, method, session, logger)
	cancel()
	if err != nil {
		return err
	}
	health.SetChainBound(true)
	health.SetRulesInstalled(true)

	if !hold {
		return nil
	}

	poller, err := monitor.NewPoller(monitor.PollerConfig{
		Reader: monitor.StateReaderFunc(func(ctx context.Context) (iptables.State, error) {
			chain, err := method.Status(ctx, session.Port, session.Family)
			if err != nil {
				return iptables.StateAbsent, err
			}
			return chain.State, nil
		}),
		Chain:             iptables.ChainName(session.Port),
		PollInterval:      cfg.CheckInterval,
		Logger:            logger,
		TransitionHandler: readiness{health: health, metrics: m},
	})
	if err != nil {
		return errors.Join(err, releaseSession(method, session))
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		poller.Run(pollCtx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health.Handler())

	return holdSession(ctx, cfg.MetricsAddr, mux, logger, func(releaseCtx context.Context) error {
		stopPolling()
		<-pollDone
		health.SetChainBound(false)
		health.SetRulesInstalled(false)
		return method.RestoreFirewall(releaseCtx, session.Port, session.Family, session.UDP)
	})
}

// readiness mirrors the observed chain state into health and metrics.
type readiness struct {
	health  *metrics.HealthChecker
	metrics *metrics.Metrics
}

func (r readiness) OnTransition(_ context.Context, _ iptables.State, current iptables.State) error {
	bound := current == iptables.StateBound
	r.health.SetChainBound(bound)
	r.metrics.SetChainBound(bound)
	return nil
}

func releaseSession(method *nat.Method, session config.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	return method.RestoreFirewall(ctx, session.Port, session.Family, session.UDP)
}

// setupSession installs the session and removes partial state when setup
// failed after touching the packet filter. Earlier failures leave any chain
// already running for the port alone.
func setupSession(ctx context.Context, method *nat.Method, session config.Session, logger *slog.Logger) error {
	err := method.SetupFirewall(ctx, session.Port, session.DNSPort, session.Nameservers, session.Family, session.Subnets, session.UDP)
	if err == nil {
		return nil
	}

	var fwErr *nat.FirewallError
	if !errors.As(err, &fwErr) {
		return err
	}

	logger.Error("setup failed; rolling back",
		slog.String("chain", fwErr.Chain),
		slog.String("error", err.Error()),
	)

	// The setup context may be what failed; rollback gets its own budget.
	if rerr := releaseSession(method, session); rerr != nil {
		logger.Error("rollback failed", slog.String("error", rerr.Error()))
		return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
	}
	return err
}

// holdSession serves handler on addr until ctx is done, then calls release.
func holdSession(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, release func(context.Context) error) error {
	releaseWithBudget := func() error {
		releaseCtx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		return release(releaseCtx)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen on %s: %w", addr, err), releaseWithBudget())
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger.Info("holding session", slog.String("metrics_addr", listener.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := releaseWithBudget(); err != nil {
		return errors.Join(runErr, err)
	}

	logger.Info("session released")
	return runErr
}
