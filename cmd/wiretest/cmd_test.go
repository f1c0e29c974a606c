package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/transport"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	// flag values outlive one Execute; start every run from the defaults
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), rootCmd.Flags(), sendCmd.Flags(), listenCmd.Flags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func udpReceiver(t *testing.T) (transport.Session, string) {
	t.Helper()
	rx, err := transport.Bind(context.Background(), transport.UDP, "127.0.0.1", 0, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rx.Close() })
	return rx, rx.LocalAddr().String()
}

func receiveValues(t *testing.T, rx transport.Session, n int) []message.Value {
	t.Helper()
	var c codec.BinaryCodec
	var values []message.Value
	for len(values) < n {
		pkt, err := rx.Receive(time.Second)
		if err != nil {
			t.Fatalf("after %d values: %v", len(values), err)
		}
		v, err := c.Decode(pkt.Frame)
		if err != nil {
			t.Fatal(err)
		}
		values = append(values, v)
	}
	return values
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "wiretest version "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSendValues(t *testing.T) {
	rx, addr := udpReceiver(t)

	out, err := run(t, "send", "--protocol", "udp", "--to", addr, "--type", "short", "--", "7", "-3")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Sent signed short: -3 to "+addr) {
		t.Fatalf("unexpected output %q", out)
	}
	values := receiveValues(t, rx, 2)
	if values[0] != message.Int16(7) || values[1] != message.Int16(-3) {
		t.Fatalf("got %v", values)
	}
}

func TestSendRange(t *testing.T) {
	rx, addr := udpReceiver(t)

	if _, err := run(t, "send", "--to", addr, "--range", "5:9"); err != nil {
		t.Fatal(err)
	}
	values := receiveValues(t, rx, 5)
	for i, v := range values {
		if v != message.Int32(5+i) {
			t.Fatalf("value %d = %v", i, v)
		}
	}
}

func TestSendPartialFailure(t *testing.T) {
	rx, addr := udpReceiver(t)

	out, err := run(t, "send", "--to", addr, "--type", "ushort", "1", "70000", "-o", "json")
	if !errors.Is(err, errSomeFailed) {
		t.Fatalf("expect errSomeFailed, got %v", err)
	}
	if n := strings.Count(out, `"event":"sent"`); n != 2 {
		t.Fatalf("expect two json events, got %d in %q", n, out)
	}
	if v := receiveValues(t, rx, 1)[0]; v != message.Uint16(1) {
		t.Fatalf("got %v", v)
	}
}

func TestSendNeedsTarget(t *testing.T) {
	if _, err := run(t, "send", "1"); err == nil {
		t.Fatal("expect error without --to")
	}
}

func TestListenBindFailure(t *testing.T) {
	_, addr := udpReceiver(t)
	_, err := run(t, "listen", "--protocol", "udp", "--addr", addr)
	var bindErr *transport.BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expect BindError for a taken port, got %v", err)
	}
}

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("127.0.0.1:9000")
	if err != nil || host != "127.0.0.1" || port != 9000 {
		t.Fatalf("got %s %d %v", host, port, err)
	}
	if host, _, err := splitAddr(""); err != nil || host != "" {
		t.Fatalf("empty address: %q %v", host, err)
	}
	for _, bad := range []string{"9000", ":9000", "h:port", "h:70000"} {
		if _, _, err := splitAddr(bad); err == nil {
			t.Errorf("%q: expect error", bad)
		}
	}
}

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("1:100")
	if err != nil || from != 1 || to != 100 {
		t.Fatalf("got %d %d %v", from, to, err)
	}
	for _, bad := range []string{"1", "a:2", "1:b", fmt.Sprint(int64(1)<<40) + ":1"} {
		if _, _, err := parseRange(bad); err == nil {
			t.Errorf("%q: expect error", bad)
		}
	}
}
