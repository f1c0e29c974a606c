package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"wiretest/message"
	"wiretest/sender"
	"wiretest/session"
	"wiretest/transport"
)

var (
	sendProtocol string
	sendTo       string
	sendType     string
	sendRange    string
)

// errSomeFailed makes the process exit 1 after a partly failed batch.
var errSomeFailed = errors.New("some values were not sent")

var sendCmd = &cobra.Command{
	Use:   "send [values...]",
	Short: "Send one batch of values and exit",
	Example: `  wiretest send --protocol udp --to 127.0.0.1:9000 --type int 1 2 3
  wiretest send --protocol tcp --to 127.0.0.1:9000 --type string "hello world"
  wiretest send --protocol udp --to 127.0.0.1:9000 --range 1:100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		proto, err := transport.ParseProtocol(sendProtocol)
		if err != nil {
			return err
		}
		host, port, err := splitAddr(sendTo)
		if err != nil {
			return err
		}
		if host == "" && !cfg.Discovery.Enabled {
			return errors.New("--to is required unless discovery is enabled")
		}

		var (
			kind     message.Kind
			from, to int32
		)
		switch {
		case sendRange != "":
			if from, to, err = parseRange(sendRange); err != nil {
				return err
			}
		case len(args) == 0:
			return errors.New("nothing to send: give values or --range")
		default:
			if kind, err = message.ParseKind(sendType); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctl, closeRegistry, err := newController(fixedPrompter{host: host, port: port})
		if err != nil {
			return err
		}
		defer closeRegistry()
		defer ctl.Close()

		if err := ctl.Establish(ctx, session.RoleSender, proto); err != nil {
			return err
		}

		var results []sender.Result
		if sendRange != "" {
			results, err = ctl.SendRange(ctx, from, to)
		} else {
			results, err = ctl.Send(ctx, kind, args)
		}
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				return errSomeFailed
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendProtocol, "protocol", "udp", "tcp or udp")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "receiver host:port (empty to discover one)")
	sendCmd.Flags().StringVarP(&sendType, "type", "t", "int", "value type: int, float, uint, char, ushort, short, string")
	sendCmd.Flags().StringVar(&sendRange, "range", "", "send the signed ints a..b as \"a:b\" instead of values")
	rootCmd.AddCommand(sendCmd)
}

func parseRange(s string) (int32, int32, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q (want a:b)", s)
	}
	from, err := strconv.ParseInt(strings.TrimSpace(a), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q: %w", a, err)
	}
	to, err := strconv.ParseInt(strings.TrimSpace(b), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q: %w", b, err)
	}
	return int32(from), int32(to), nil
}
