package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/sender"
	"wiretest/session"
	"wiretest/transport"
)

func onlyLocalhost(_ context.Context, host string) error {
	if host == "127.0.0.1" || host == "localhost" {
		return nil
	}
	return errors.New("no such host")
}

func newPrompter(input string) (*Prompter, *bytes.Buffer) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader(input), NewPrinter(&out, "text", false))
	p.LookupHost = onlyLocalhost
	return p, &out
}

func TestPromptHostPortValidates(t *testing.T) {
	p, out := newPrompter("nowhere.invalid\n127.0.0.1\nabc\n80\n9000\n")

	host, port, err := p.PromptHostPort(context.Background(), session.RoleReceiver, transport.UDP)
	if err != nil {
		t.Fatal(err)
	}
	if host != "127.0.0.1" || port != 9000 {
		t.Fatalf("got %s:%d", host, port)
	}
	for _, want := range []string{
		"Invalid hostname or IP address.",
		"Please enter a valid integer for the port.",
		"Port must be between 1024 and 65535.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in output", want)
		}
	}
}

func TestPromptHostPortDiscovery(t *testing.T) {
	p, _ := newPrompter("\n")
	p.AllowDiscovery = true
	host, port, err := p.PromptHostPort(context.Background(), session.RoleSender, transport.TCP)
	if err != nil || host != "" || port != 0 {
		t.Fatalf("expect empty answer for discovery, got %q %d %v", host, port, err)
	}

	// receivers must always name a host
	p, _ = newPrompter("\n127.0.0.1\n2000\n")
	p.AllowDiscovery = true
	host, _, err = p.PromptHostPort(context.Background(), session.RoleReceiver, transport.TCP)
	if err != nil || host != "127.0.0.1" {
		t.Fatalf("got %q %v", host, err)
	}
}

func TestPromptInputClosed(t *testing.T) {
	p, _ := newPrompter("")
	if _, _, err := p.PromptHostPort(context.Background(), session.RoleSender, transport.UDP); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("expect ErrInputClosed, got %v", err)
	}
}

func TestPromptRoleAndProtocol(t *testing.T) {
	p, out := newPrompter("x\nR\nsctp\nUDP\n")
	role, err := p.PromptRole()
	if err != nil || role != session.RoleReceiver {
		t.Fatalf("role = %v, %v", role, err)
	}
	proto, err := p.PromptProtocol()
	if err != nil || proto != transport.UDP {
		t.Fatalf("protocol = %v, %v", proto, err)
	}
	if !strings.Contains(out.String(), "Invalid role.") || !strings.Contains(out.String(), "Invalid protocol.") {
		t.Fatalf("missing re-prompt messages: %q", out.String())
	}
}

func TestPromptDataType(t *testing.T) {
	p, out := newPrompter("9\n8\n7\n")

	if _, _, ok, err := p.PromptDataType(); ok || err != nil {
		t.Fatalf("9 should be invalid, got ok=%v err=%v", ok, err)
	}
	if kind, isRange, ok, _ := p.PromptDataType(); !ok || !isRange || kind != message.KindInt32 {
		t.Fatalf("8 → kind=%v range=%v ok=%v", kind, isRange, ok)
	}
	if kind, isRange, ok, _ := p.PromptDataType(); !ok || isRange || kind != message.KindText {
		t.Fatalf("7 → kind=%v range=%v ok=%v", kind, isRange, ok)
	}
	if !strings.Contains(out.String(), "5. unsigned short") || !strings.Contains(out.String(), "8. integers 1-100") {
		t.Fatalf("menu incomplete: %q", out.String())
	}
}

func TestPromptValues(t *testing.T) {
	p, _ := newPrompter("1  2\t3\nQ\n")
	tokens, quit, err := p.PromptDataTypeAndValues(message.KindInt32)
	if err != nil || quit || len(tokens) != 3 || tokens[2] != "3" {
		t.Fatalf("tokens=%q quit=%v err=%v", tokens, quit, err)
	}
	if _, quit, _ := p.PromptDataTypeAndValues(message.KindInt32); !quit {
		t.Fatal("Q should quit")
	}
}

func TestPrinterInboundText(t *testing.T) {
	var out bytes.Buffer
	pr := NewPrinter(&out, "text", false)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}

	cases := []struct {
		env  *message.Envelope
		want string
	}{
		{&message.Envelope{Peer: peer, Value: message.Uint16(7)}, "Received unsigned short: 7"},
		{&message.Envelope{Peer: peer, Value: message.Text("hello")}, "Received complete string: hello"},
		{&message.Envelope{Peer: peer, Frame: []byte{'i'}, Err: codec.ErrFrameTooShort}, "Received data is too short to process."},
		{&message.Envelope{Peer: peer, Frame: []byte{'s', 9, 0, 0, 0}, Err: codec.ErrFrameTooShort}, "Error unpacking data:"},
		{&message.Envelope{Peer: peer, Frame: []byte{'c', 0xff}, Err: codec.ErrDecodingEncoding}, "Error decoding data:"},
		{&message.Envelope{Peer: peer, Value: message.Unknown{Tag: 'z', Raw: []byte{1}}}, "Received unknown data type: 'z'"},
	}
	for _, tc := range cases {
		out.Reset()
		if err := pr.Inbound(context.Background(), tc.env); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "Received raw data from 127.0.0.1:50000") {
			t.Errorf("missing peer line: %q", out.String())
		}
		if !strings.Contains(out.String(), tc.want) {
			t.Errorf("want %q in %q", tc.want, out.String())
		}
	}
}

func TestPrinterSentText(t *testing.T) {
	var out bytes.Buffer
	pr := NewPrinter(&out, "text", false)

	pr.Sent(sender.Result{Token: "42", Kind: message.KindInt32, Value: message.Int32(42), Target: "127.0.0.1:9000"})
	pr.Sent(sender.Result{Token: "abc", Kind: message.KindInt32, Target: "127.0.0.1:9000", Err: codec.ErrEncodingFormat})
	pr.Sent(sender.Result{Token: "99999", Kind: message.KindInt16, Target: "127.0.0.1:9000", Err: codec.ErrEncodingRange})
	pr.Sent(sender.Result{Token: "1", Kind: message.KindInt32, Target: "127.0.0.1:9000", Err: errors.New("reset")})

	got := out.String()
	for _, want := range []string{
		"Sent int: 42 to 127.0.0.1:9000",
		"Invalid input for the chosen data type",
		"Error packing data",
		"Error sending data: reset",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("want %q in %q", want, got)
		}
	}
}

func TestPrinterJSON(t *testing.T) {
	var out bytes.Buffer
	pr := NewPrinter(&out, "json", false)
	pr.Println("status lines are dropped in json mode")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = pr.Inbound(context.Background(), &message.Envelope{Value: message.Int32(-5), At: at})

	var ev Event
	if err := json.Unmarshal(out.Bytes(), &ev); err != nil {
		t.Fatalf("not one json object: %q: %v", out.String(), err)
	}
	if ev.Event != "received" || ev.Tag != "i" || ev.Type != "int" || ev.Value != float64(-5) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPrinterYAML(t *testing.T) {
	var out bytes.Buffer
	pr := NewPrinter(&out, "yaml", false)
	pr.Sent(sender.Result{Token: "x", Kind: message.KindChar, Value: message.Char('x'), Target: "h:1"})

	var ev map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["event"] != "sent" || ev["value"] != "x" || ev["peer"] != "h:1" {
		t.Fatalf("unexpected yaml %v", ev)
	}
}

// An operator session: pick sender over UDP, send one good and one bad
// int, send the 1..100 range, then exit.
func TestAppSenderSession(t *testing.T) {
	rx, err := transport.Bind(context.Background(), transport.UDP, "127.0.0.1", 0, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	input := strings.Join([]string{
		"s", "udp", "127.0.0.1", fmt.Sprint(port),
		"1", "1", "42 abc", "q",
		"1", "8",
		"4",
	}, "\n") + "\n"

	var out bytes.Buffer
	printer := NewPrinter(&out, "text", false)
	prompt := NewPrompter(strings.NewReader(input), printer)
	prompt.LookupHost = onlyLocalhost
	ctl := session.New(session.Options{
		Prompter: prompt,
		Out:      printer,
		OnSent:   printer.Sent,
	})
	app := &App{Ctl: ctl, Prompt: prompt, Printer: printer}

	if err := app.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	target := fmt.Sprintf("127.0.0.1:%d", port)
	for _, want := range []string{
		"Sender created. Will send to " + target,
		"UDP Communication Program",
		"Sent int: 42 to " + target,
		"Invalid input for the chosen data type",
		"Sending integers 1-100...",
		"Sent all integers from 1 to 100 to " + target,
		"Program terminated.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q", want)
		}
	}

	var c codec.BinaryCodec
	var values []message.Value
	for len(values) < 101 {
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
	if values[0] != message.Int32(42) || values[1] != message.Int32(1) || values[100] != message.Int32(100) {
		t.Fatalf("unexpected values %v ... %v", values[:2], values[100])
	}
	if ctl.State() != session.Uninitialized {
		t.Fatalf("controller left in %v", ctl.State())
	}
}

func TestAppInputEndsQuietly(t *testing.T) {
	var out bytes.Buffer
	printer := NewPrinter(&out, "text", false)
	prompt := NewPrompter(strings.NewReader("s\n"), printer)
	app := &App{Ctl: session.New(session.Options{Prompter: prompt}), Prompt: prompt, Printer: printer}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("expect clean exit on end of input, got %v", err)
	}
}

func TestRangeChoiceFollowsKinds(t *testing.T) {
	// 菜单 1-7 是七种类型，8 是整数区间
	if RangeChoice != 8 || len(message.Kinds) != 7 {
		t.Fatalf("RangeChoice = %d with %d kinds", RangeChoice, len(message.Kinds))
	}
}

func TestPromptsShownInStructuredOutput(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		var out bytes.Buffer
		printer := NewPrinter(&out, format, false)
		p := NewPrompter(strings.NewReader("9\n4\n"), printer)

		printer.Println("Sender created. Will send to 127.0.0.1:9000")
		if _, _, ok, err := p.PromptDataType(); ok || err != nil {
			t.Fatalf("%s: 9 should be invalid, got ok=%v err=%v", format, ok, err)
		}
		cmd, err := p.PromptMenuChoice(session.RoleSender, transport.TCP)
		if err != nil || cmd != CmdExit {
			t.Fatalf("%s: menu = %v, %v", format, cmd, err)
		}

		got := out.String()
		for _, want := range []string{"Choose data type to send:", "Invalid choice.", "TCP Communication Program", "4. Exit", "Enter your choice: "} {
			if !strings.Contains(got, want) {
				t.Errorf("%s: prompt text %q missing", format, want)
			}
		}
		if strings.Contains(got, "Sender created") {
			t.Errorf("%s: status line leaked into structured output", format)
		}
	}
}
