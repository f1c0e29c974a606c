package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wiretest/session"
	"wiretest/transport"
)

var (
	listenProtocol string
	listenAddr     string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive and print values until interrupted",
	Example: `  wiretest listen --protocol udp --addr 127.0.0.1:9000
  wiretest listen --protocol tcp --addr 0.0.0.0:9000 -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		proto, err := transport.ParseProtocol(listenProtocol)
		if err != nil {
			return err
		}
		host, port, err := splitAddr(listenAddr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctl, closeRegistry, err := newController(fixedPrompter{host: host, port: port})
		if err != nil {
			return err
		}
		defer closeRegistry()
		defer ctl.Close()

		if err := ctl.Establish(ctx, session.RoleReceiver, proto); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
		case <-ctl.ReceiverDone():
		}
		if stats, ok := ctl.ReceiverStats(); ok {
			zap.L().Info("receiver finished",
				zap.Uint64("frames", stats.Frames),
				zap.Uint64("decoded", stats.Decoded),
				zap.Uint64("unknown", stats.Unknown),
				zap.Uint64("malformed", stats.Malformed))
		}
		return ctl.Close()
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenProtocol, "protocol", "udp", "tcp or udp")
	listenCmd.Flags().StringVar(&listenAddr, "addr", "127.0.0.1:9000", "host:port to bind")
	rootCmd.AddCommand(listenCmd)
}

// splitAddr parses host:port. An empty string yields an empty host so the
// sender can fall back to discovery.
func splitAddr(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, nil
	}
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		return "", 0, errors.New("address needs a host")
	}
	return host, port, nil
}
