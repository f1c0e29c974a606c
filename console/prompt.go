// Package console is the interactive front end: line prompts on an input
// stream, the main menu, and the printer for sent and received values.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"wiretest/message"
	"wiretest/session"
	"wiretest/transport"
)

// ErrInputClosed is returned once the input stream has ended.
var ErrInputClosed = errors.New("input closed")

const (
	MinPort = 1024
	MaxPort = 65535
)

// Prompter reads operator answers line by line. It implements
// session.Prompter.
type Prompter struct {
	in  *bufio.Scanner
	out *Printer

	// AllowDiscovery lets a sender leave the host empty.
	AllowDiscovery bool
	// LookupHost validates a host; nil means the default resolver.
	LookupHost func(ctx context.Context, host string) error
}

func NewPrompter(in io.Reader, out *Printer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

func (p *Prompter) readLine(prompt string) (string, error) {
	p.sayf("%s", prompt)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", ErrInputClosed
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *Prompter) sayf(format string, a ...any) {
	p.out.Prompt(fmt.Sprintf(format, a...))
}

func (p *Prompter) sayln(a ...any) {
	p.out.Prompt(fmt.Sprintln(a...))
}

func (p *Prompter) lookup(ctx context.Context, host string) error {
	if p.LookupHost != nil {
		return p.LookupHost(ctx, host)
	}
	_, err := net.DefaultResolver.LookupHost(ctx, host)
	return err
}

// PromptHostPort re-prompts until it has a resolvable host and a port in
// [MinPort, MaxPort].
func (p *Prompter) PromptHostPort(ctx context.Context, role session.Role, _ transport.Protocol) (string, int, error) {
	discover := p.AllowDiscovery && role == session.RoleSender
	prompt := "Enter the host IP (e.g., 127.0.0.1 for localhost): "
	if discover {
		prompt = "Enter the host IP (e.g., 127.0.0.1, empty to discover a receiver): "
	}

	var host string
	for {
		h, err := p.readLine(prompt)
		if err != nil {
			return "", 0, err
		}
		if h == "" && discover {
			return "", 0, nil
		}
		if h != "" && p.lookup(ctx, h) == nil {
			host = h
			break
		}
		p.sayln("Invalid hostname or IP address. Please try again.")
	}

	for {
		s, err := p.readLine(fmt.Sprintf("Enter the port number (%d-%d): ", MinPort, MaxPort))
		if err != nil {
			return "", 0, err
		}
		port, err := strconv.Atoi(s)
		switch {
		case err != nil:
			p.sayln("Please enter a valid integer for the port.")
		case port < MinPort || port > MaxPort:
			p.sayf("Port must be between %d and %d.\n", MinPort, MaxPort)
		default:
			return host, port, nil
		}
	}
}

// ConfirmRetry asks whether to try another port after a failed bind.
func (p *Prompter) ConfirmRetry(_ context.Context, _ error) (bool, error) {
	s, err := p.readLine("Do you want to try a different port? (y/n): ")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(s, "y"), nil
}

func (p *Prompter) PromptRole() (session.Role, error) {
	for {
		p.sayln("Do you want to act as a sender or receiver?")
		s, err := p.readLine("Enter 's' for sender or 'r' for receiver: ")
		if err != nil {
			return session.RoleNone, err
		}
		if r, err := session.ParseRole(strings.ToLower(s)); err == nil {
			return r, nil
		}
		p.sayln("Invalid role. Please enter 's' or 'r'.")
	}
}

func (p *Prompter) PromptProtocol() (transport.Protocol, error) {
	for {
		s, err := p.readLine("Choose protocol (tcp/udp): ")
		if err != nil {
			return "", err
		}
		if proto, err := transport.ParseProtocol(s); err == nil {
			return proto, nil
		}
		p.sayln("Invalid protocol. Please enter 'tcp' or 'udp'.")
	}
}

// Command is a main menu entry.
type Command int

const (
	CmdInvalid Command = iota
	CmdData            // send or receive, depending on role
	CmdSwitchRole
	CmdSwitchProtocol
	CmdExit
)

// PromptMenuChoice shows the main menu once and returns the choice.
func (p *Prompter) PromptMenuChoice(role session.Role, proto transport.Protocol) (Command, error) {
	p.sayln()
	p.sayln(p.out.title.Render(strings.ToUpper(proto.String()) + " Communication Program"))
	if role == session.RoleSender {
		p.sayln("1. Send data")
	} else {
		p.sayln("1. Receive data")
	}
	p.sayln("2. Switch role")
	p.sayln("3. Switch protocol")
	p.sayln("4. Exit")

	s, err := p.readLine("Enter your choice: ")
	if err != nil {
		return CmdInvalid, err
	}
	switch s {
	case "1":
		return CmdData, nil
	case "2":
		return CmdSwitchRole, nil
	case "3":
		return CmdSwitchProtocol, nil
	case "4":
		return CmdExit, nil
	}
	return CmdInvalid, nil
}

// RangeChoice is the extra data type menu entry that sends 1..100.
const RangeChoice = len(message.Kinds) + 1

// PromptDataType shows the data type menu. It returns the chosen kind, or
// isRange for the integer range entry. ok is false for an invalid choice.
func (p *Prompter) PromptDataType() (kind message.Kind, isRange, ok bool, err error) {
	p.sayln()
	p.sayln("Choose data type to send:")
	for i, k := range message.Kinds {
		p.sayf("%d. %s\n", i+1, k.Name())
	}
	p.sayf("%d. integers 1-100\n", RangeChoice)

	s, err := p.readLine(fmt.Sprintf("Enter your choice (1-%d): ", RangeChoice))
	if err != nil {
		return 0, false, false, err
	}
	n, convErr := strconv.Atoi(s)
	switch {
	case convErr != nil || n < 1 || n > RangeChoice:
		p.sayln("Invalid choice. Please try again.")
		return 0, false, false, nil
	case n == RangeChoice:
		return message.KindInt32, true, true, nil
	}
	return message.Kinds[n-1], false, true, nil
}

// PromptDataTypeAndValues reads one line of whitespace-separated values.
// quit is true when the operator typed q.
func (p *Prompter) PromptDataTypeAndValues(kind message.Kind) (tokens []string, quit bool, err error) {
	s, err := p.readLine(fmt.Sprintf("Enter %s value(s) (or 'q' to quit): ", kind.Name()))
	if err != nil {
		return nil, false, err
	}
	if strings.EqualFold(s, "q") {
		return nil, true, nil
	}
	return strings.Fields(s), false, nil
}

// WaitEnter blocks until the operator presses Enter.
func (p *Prompter) WaitEnter() error {
	_, err := p.readLine("Press Enter to return to main menu...\n")
	return err
}
