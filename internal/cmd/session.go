package cmd

import (
	"log/slog"
	"time"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/logging"
	"github.com/denniswebb/shuttlewire/internal/nat"
)

// operationTimeout bounds a single setup or restore.
const operationTimeout = 30 * time.Second

// deps are the system collaborators replaced in tests.
type deps struct {
	executors nat.ExecutorFactory
	resolver  nat.AddressResolver
}

var defaultDeps = deps{executors: iptables.NewExecutor}

func commandLogger() *slog.Logger {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}
	return logger
}

func newMethod(cfg config.Config, d deps, recorder nat.Recorder, logger *slog.Logger) (*nat.Method, error) {
	containerNet, err := cfg.ContainerNet()
	if err != nil {
		return nil, err
	}
	return nat.NewMethod(nat.Config{
		Interface:    cfg.Interface,
		ContainerNet: containerNet,
		LoopGuardTTL: cfg.LoopGuardTTL,
		RuleMapPath:  cfg.RuleMapPath,
		Resolver:     d.resolver,
		Executors:    d.executors,
		Recorder:     recorder,
		Logger:       logger,
	})
}
