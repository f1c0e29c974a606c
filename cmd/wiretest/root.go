package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wiretest/config"
	"wiretest/console"
	"wiretest/loadbalance"
	"wiretest/observability"
	"wiretest/registry"
	"wiretest/session"
	"wiretest/transport"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	logLevel     string
	roleFlag     string
	protocolFlag string

	// Shared state set during PersistentPreRun
	cfg     *config.Config
	logger  *zap.Logger
	printer *console.Printer
)

// rootCmd runs the interactive menu when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:   "wiretest",
	Short: "Send and receive tagged binary values over TCP or UDP",
	Long: `wiretest is a peer-to-peer test tool. One side receives, the other side
sends typed values (int, float, unsigned int, char, unsigned short, short,
string) encoded as a one-byte tag followed by a little-endian payload.

Without a subcommand it starts the interactive menu.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Flags override file and env values.
		flags := cmd.Root().PersistentFlags()
		if err := v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
			return err
		}
		if err := v.BindPFlag("output.format", flags.Lookup("output")); err != nil {
			return err
		}
		cfg, err = config.FromViper(v)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = observability.SetupLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		printer = console.NewPrinter(cmd.OutOrStdout(), cfg.Output.Format, cfg.Output.Color)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wiretest.yaml or ~/.wiretest/wiretest.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "value output format: text, json, yaml (default \"text\")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default \"warn\")")

	rootCmd.Flags().StringVar(&roleFlag, "role", "", "start as sender (s) or receiver (r) without asking")
	rootCmd.Flags().StringVar(&protocolFlag, "protocol", "", "start with tcp or udp without asking")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &console.App{Printer: printer}
	if roleFlag != "" {
		r, err := session.ParseRole(roleFlag)
		if err != nil {
			return err
		}
		app.Role = r
	}
	if protocolFlag != "" {
		p, err := transport.ParseProtocol(protocolFlag)
		if err != nil {
			return err
		}
		app.Protocol = p
	}

	app.Prompt = console.NewPrompter(cmd.InOrStdin(), printer)
	app.Prompt.AllowDiscovery = cfg.Discovery.Enabled

	ctl, closeRegistry, err := newController(app.Prompt)
	if err != nil {
		return err
	}
	defer closeRegistry()
	app.Ctl = ctl
	return app.Run(ctx)
}

// newController wires a session.Controller from cfg. The returned func
// releases the registry once the controller is closed.
func newController(p session.Prompter) (*session.Controller, func(), error) {
	opts := session.Options{
		Prompter: p,
		Out:      printer,
		Inbound:  printer.Inbound,
		OnSent:   printer.Sent,
		Transport: transport.Options{
			MaxFrameSize: cfg.Transport.MaxFrameBytes,
			DialTimeout:  cfg.Transport.DialTimeout,
		},
		PollInterval: cfg.Receiver.PollInterval,
		SendTimeout:  cfg.Sender.SendTimeout,
		RatePerSec:   cfg.Sender.RatePerSec,
		Burst:        cfg.Sender.Burst,
		TTL:          cfg.Discovery.TTLSeconds,
		Weight:       cfg.Discovery.Weight,
		Version:      version,
	}

	release := func() {}
	if cfg.Discovery.Enabled {
		reg, err := openRegistry(cfg.Discovery)
		if err != nil {
			return nil, nil, err
		}
		host, _ := os.Hostname()
		bal, err := loadbalance.New(cfg.Discovery.Balancer, host)
		if err != nil {
			_ = reg.Close()
			return nil, nil, err
		}
		opts.Registry, opts.Balancer = reg, bal
		release = func() {
			if err := reg.Close(); err != nil {
				zap.L().Warn("close registry", zap.Error(err))
			}
		}
	}
	return session.New(opts), release, nil
}

func openRegistry(c config.DiscoveryConfig) (registry.Registry, error) {
	if len(c.Endpoints) == 0 {
		zap.L().Info("discovery without endpoints, using in-process registry")
		return registry.NewMemoryRegistry(), nil
	}
	reg, err := registry.NewEtcdRegistry(c.Endpoints, cfg.Transport.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to etcd %v: %w", c.Endpoints, err)
	}
	return reg, nil
}

// fixedPrompter answers session setup from flags. It never retries a
// failed bind.
type fixedPrompter struct {
	host string
	port int
}

func (p fixedPrompter) PromptHostPort(context.Context, session.Role, transport.Protocol) (string, int, error) {
	return p.host, p.port, nil
}

func (p fixedPrompter) ConfirmRetry(context.Context, error) (bool, error) {
	return false, nil
}
