package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/denniswebb/shuttlewire/internal/config"
	"github.com/denniswebb/shuttlewire/internal/iptables"
	"github.com/denniswebb/shuttlewire/internal/logging"
	"github.com/denniswebb/shuttlewire/internal/resolver"
	"github.com/denniswebb/shuttlewire/internal/rules"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "shuttlewire",
	Short: "Transparent TCP and DNS redirection through iptables nat",
	Long: `shuttlewire installs a per-port nat chain that redirects TCP traffic for the
selected subnets to a local listener and DNS queries for the selected
nameservers to a local relay. Local, container and relay traffic is never
redirected. Every command is safe to repeat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.BindEnv(viper.GetViper())

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		logging.InitLogger(viper.GetString("log-level"), "shuttlewire", viper.GetString("log-format"))
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", logging.FormatJSON, "Log format (json, text)")

	flags.Int("port", 0, "Local port TCP traffic is redirected to")
	flags.Int("dns-port", 0, "Local port DNS queries are redirected to")
	flags.String("family", "ipv4", "Address family of the session")
	flags.Bool("udp", false, "Redirect all UDP traffic (unsupported by the nat method)")
	flags.StringSlice("subnets", nil, "Subnets to redirect; prefix with ! to exclude")
	flags.StringSlice("nameservers", nil, "Nameservers whose DNS traffic is redirected")
	flags.String("interface", resolver.DefaultInterface, "Interface whose address is never redirected")
	flags.Int("loop-guard-ttl", iptables.DefaultLoopGuardTTL, "TTL the relay stamps on re-emitted packets")
	flags.String("container-cidr", rules.DefaultContainerNet.String(), "Container network never redirected")
	flags.String("rule-map-path", "", "Write installed rules to this file")

	bindFlags(flags)
	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(SetupCmd)
	rootCmd.AddCommand(RestoreCmd)
	rootCmd.AddCommand(PlanCmd)
	rootCmd.AddCommand(StatusCmd)
}

func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" {
			return
		}
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", flag.Name, err)
			os.Exit(1)
		}
	})
}
