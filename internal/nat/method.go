// Package nat drives a redirect session end to end: it validates the
// request, resolves the local address, compiles the rule list and only then
// touches the packet filter.
package nat

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"

	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/metrics"
	"github.com/denniswebb/shuttlewire/internal/resolver"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// AddressResolver finds the host address excluded from redirection.
type AddressResolver interface {
	LocalAddress(ctx context.Context, iface string, family rules.Family) (netip.Addr, error)
}

// ExecutorFactory returns the packet filter backend for a family.
type ExecutorFactory func(family rules.Family) (iptables.Executor, error)

// Recorder receives session metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	iptables.Recorder
	SetChainBound(bound bool)
	SetRulesInstalled(count int)
	IncrementError(errorType string)
}

// Config wires a Method to its collaborators. Zero values select defaults.
type Config struct {
	Interface    string
	ContainerNet netip.Prefix
	LoopGuardTTL int
	RuleMapPath  string
	Resolver     AddressResolver
	Executors    ExecutorFactory
	Recorder     Recorder
	Logger       *slog.Logger
}

// FirewallError reports a setup failure after the packet filter was touched.
// The chain may be partially installed and should be restored.
type FirewallError struct {
	Chain string
	Err   error
}

func (e *FirewallError) Error() string {
	return e.Err.Error()
}

func (e *FirewallError) Unwrap() error {
	return e.Err
}

type backend struct {
	manager *iptables.Manager
	applier *iptables.Applier
}

// Method is the nat redirection method. Backends are created lazily per
// family and reused, so a missing ttl match is detected once per process.
type Method struct {
	iface        string
	containerNet netip.Prefix
	loopGuardTTL int
	ruleMapPath  string
	resolver     AddressResolver
	executors    ExecutorFactory
	recorder     Recorder
	logger       *slog.Logger

	mu       sync.Mutex
	backends map[rules.Family]*backend
}

// NewMethod validates cfg and fills in defaults.
func NewMethod(cfg Config) (*Method, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	iface := strings.TrimSpace(cfg.Interface)
	if iface == "" {
		iface = resolver.DefaultInterface
	}

	containerNet := cfg.ContainerNet
	if !containerNet.IsValid() {
		containerNet = rules.DefaultContainerNet
	}

	ttl := cfg.LoopGuardTTL
	if ttl == 0 {
		ttl = iptables.DefaultLoopGuardTTL
	}
	if ttl < 1 || ttl > 255 {
		return nil, fmt.Errorf("loop guard ttl %d out of range 1-255", ttl)
	}

	res := cfg.Resolver
	if res == nil {
		res = resolver.New(nil, logger)
	}

	executors := cfg.Executors
	if executors == nil {
		executors = iptables.NewExecutor
	}

	rec := cfg.Recorder
	if rec == nil {
		rec = noopRecorder{}
	}

	return &Method{
		iface:        iface,
		containerNet: containerNet,
		loopGuardTTL: ttl,
		ruleMapPath:  strings.TrimSpace(cfg.RuleMapPath),
		resolver:     res,
		executors:    executors,
		recorder:     rec,
		logger:       logger.With(slog.String("method", "nat")),
		backends:     map[rules.Family]*backend{},
	}, nil
}

// Plan computes the rules SetupFirewall would install without mutating the
// packet filter.
func (m *Method) Plan(ctx context.Context, port, dnsPort int, nameservers []rules.Nameserver, family rules.Family, subnets []rules.SubnetSpec, udp bool) ([]rules.Rule, error) {
	if err := rules.CheckSupport(family, udp); err != nil {
		m.recorder.IncrementError(metrics.ErrorUnsupported)
		return nil, err
	}

	local, err := m.resolver.LocalAddress(ctx, m.iface, family)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorResolve)
		return nil, err
	}

	compiler := rules.Compiler{LocalAddr: local, ContainerNet: m.containerNet}
	compiled, err := compiler.Compile(port, dnsPort, nameservers, family, subnets)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorCompile)
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	return compiled, nil
}

// SetupFirewall installs the session chain for port and fills it. Every
// validation runs before the first firewall call, so only errors wrapped in
// *FirewallError can leave partial state; the caller should then invoke
// RestoreFirewall. Any other error means the packet filter is untouched.
func (m *Method) SetupFirewall(ctx context.Context, port, dnsPort int, nameservers []rules.Nameserver, family rules.Family, subnets []rules.SubnetSpec, udp bool) error {
	compiled, err := m.Plan(ctx, port, dnsPort, nameservers, family, subnets, udp)
	if err != nil {
		return err
	}

	name := iptables.ChainName(port)

	b, err := m.backend(family)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorChain)
		return err
	}

	chain, err := b.manager.Setup(ctx, port)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorChain)
		return &FirewallError{Chain: name, Err: fmt.Errorf("setup chain: %w", err)}
	}
	m.recorder.SetChainBound(true)

	installed, err := b.applier.Apply(ctx, chain, compiled)
	m.recorder.SetRulesInstalled(installed)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorInstall)
		return &FirewallError{Chain: name, Err: err}
	}

	if m.ruleMapPath != "" {
		if err := iptables.WriteRuleMap(m.ruleMapPath, chain, compiled, b.applier.LoopGuardActive(), m.logger); err != nil {
			m.logger.Warn("failed to write rule map",
				slog.String("path", m.ruleMapPath),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("firewall set up",
		slog.String("chain", chain.Name),
		slog.Int("port", port),
		slog.Int("dns_port", dnsPort),
		slog.Int("rules", installed),
	)
	return nil
}

// RestoreFirewall removes the session chain for port. It is safe to call
// repeatedly and on partially created state.
func (m *Method) RestoreFirewall(ctx context.Context, port int, family rules.Family, udp bool) error {
	if err := rules.CheckSupport(family, udp); err != nil {
		m.recorder.IncrementError(metrics.ErrorUnsupported)
		return err
	}

	b, err := m.backend(family)
	if err != nil {
		m.recorder.IncrementError(metrics.ErrorTeardown)
		return err
	}

	if err := b.manager.Restore(ctx, port); err != nil {
		m.recorder.IncrementError(metrics.ErrorTeardown)
		return err
	}
	m.recorder.SetChainBound(false)
	m.recorder.SetRulesInstalled(0)

	if err := iptables.RemoveRuleMap(m.ruleMapPath); err != nil {
		m.logger.Warn("failed to remove rule map",
			slog.String("path", m.ruleMapPath),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("firewall restored", slog.String("chain", iptables.ChainName(port)))
	return nil
}

// Status reports the lifecycle state of the session chain for port.
func (m *Method) Status(ctx context.Context, port int, family rules.Family) (*iptables.SessionChain, error) {
	if err := rules.CheckSupport(family, false); err != nil {
		return nil, err
	}
	b, err := m.backend(family)
	if err != nil {
		return nil, err
	}
	return b.manager.Status(ctx, port)
}

func (m *Method) backend(family rules.Family) (*backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[family]; ok {
		return b, nil
	}

	executor, err := m.executors(family)
	if err != nil {
		return nil, fmt.Errorf("create %s packet filter: %w", family, err)
	}

	b := &backend{
		manager: iptables.NewManager(executor, family, m.logger, m.recorder),
		applier: iptables.NewApplier(executor, m.loopGuardTTL, m.logger, m.recorder),
	}
	m.backends[family] = b
	return b, nil
}

type noopRecorder struct{}

func (noopRecorder) NonfatalFailure(string) {}

func (noopRecorder) LoopGuardFallback() {}

func (noopRecorder) SetChainBound(bool) {}

func (noopRecorder) SetRulesInstalled(int) {}

func (noopRecorder) IncrementError(string) {}
