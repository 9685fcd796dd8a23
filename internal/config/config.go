package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/resolver"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// EnvPrefix namespaces environment overrides, e.g. SW_DNS_PORT.
const EnvPrefix = "SW"

// Config captures the runtime settings of a redirect session. Keys match the
// CLI flag names.
type Config struct {
	Port          int           `mapstructure:"port"`
	DNSPort       int           `mapstructure:"dns-port"`
	Interface     string        `mapstructure:"interface"`
	Family        string        `mapstructure:"family"`
	Subnets       []string      `mapstructure:"subnets"`
	Nameservers   []string      `mapstructure:"nameservers"`
	UDP           bool          `mapstructure:"udp"`
	LoopGuardTTL  int           `mapstructure:"loop-guard-ttl"`
	ContainerCIDR string        `mapstructure:"container-cidr"`
	RuleMapPath   string        `mapstructure:"rule-map-path"`
	MetricsAddr   string        `mapstructure:"metrics-addr"`
	CheckInterval time.Duration `mapstructure:"check-interval"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format"`
}

// Session is the validated, typed form of the session keys in Config.
type Session struct {
	Port        int
	DNSPort     int
	Family      rules.Family
	Subnets     []rules.SubnetSpec
	Nameservers []rules.Nameserver
	UDP         bool
}

// SetDefaults registers every key so environment overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 0)
	v.SetDefault("dns-port", 0)
	v.SetDefault("interface", resolver.DefaultInterface)
	v.SetDefault("family", "ipv4")
	v.SetDefault("subnets", []string{})
	v.SetDefault("nameservers", []string{})
	v.SetDefault("udp", false)
	v.SetDefault("loop-guard-ttl", iptables.DefaultLoopGuardTTL)
	v.SetDefault("container-cidr", rules.DefaultContainerNet.String())
	v.SetDefault("rule-map-path", "")
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("check-interval", "10s")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
}

// BindEnv enables SW_ prefixed environment overrides with dashes mapped to
// underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads configuration values from the global viper instance.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration values from v.
func LoadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to load configuration: %w", err)
	}
	cfg.Subnets = splitList(cfg.Subnets)
	cfg.Nameservers = splitList(cfg.Nameservers)
	return cfg, nil
}

// Session parses the session keys. Ports are range-checked later by the
// compiler so that plan and setup report the same errors.
func (c Config) Session() (Session, error) {
	family, err := rules.ParseFamily(c.Family)
	if err != nil {
		return Session{}, err
	}

	subnets, err := rules.ParseSubnets(c.Subnets)
	if err != nil {
		return Session{}, err
	}

	nameservers, err := rules.ParseNameservers(c.Nameservers)
	if err != nil {
		return Session{}, err
	}

	if c.Port == 0 {
		return Session{}, errors.New("port is required")
	}

	return Session{
		Port:        c.Port,
		DNSPort:     c.DNSPort,
		Family:      family,
		Subnets:     subnets,
		Nameservers: nameservers,
		UDP:         c.UDP,
	}, nil
}

// ContainerNet parses ContainerCIDR. Empty selects the docker default.
func (c Config) ContainerNet() (netip.Prefix, error) {
	raw := strings.TrimSpace(c.ContainerCIDR)
	if raw == "" {
		return rules.DefaultContainerNet, nil
	}
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parse container-cidr %q: %w", raw, err)
	}
	return prefix.Masked(), nil
}

// splitList accepts both list values and single comma separated entries,
// which is how lists arrive from environment variables.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
