package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/sender"
)

// Event is the structured form of one sent or received value.
type Event struct {
	Event string    `json:"event" yaml:"event"` // "received" or "sent"
	Peer  string    `json:"peer,omitempty" yaml:"peer,omitempty"`
	Token string    `json:"token,omitempty" yaml:"token,omitempty"`
	Tag   string    `json:"tag,omitempty" yaml:"tag,omitempty"`
	Type  string    `json:"type,omitempty" yaml:"type,omitempty"`
	Value any       `json:"value,omitempty" yaml:"value,omitempty"`
	Raw   []byte    `json:"raw,omitempty" yaml:"raw,omitempty"`
	Frame []byte    `json:"frame,omitempty" yaml:"frame,omitempty"`
	Error string    `json:"error,omitempty" yaml:"error,omitempty"`
	At    time.Time `json:"at" yaml:"at"`
}

// Printer writes operator-facing lines. It is safe for concurrent use, so
// the receive loop and the command loop can share it.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	formatter Formatter

	title   lipgloss.Style
	header  lipgloss.Style
	value   lipgloss.Style
	failure lipgloss.Style
	dim     lipgloss.Style
}

// NewPrinter writes to out in format "text", "json" or "yaml". color has
// effect only when out is a terminal.
func NewPrinter(out io.Writer, format string, color bool) *Printer {
	r := lipgloss.NewRenderer(out)
	p := &Printer{out: out, formatter: NewFormatter(format)}
	p.title = r.NewStyle()
	p.header = r.NewStyle()
	p.value = r.NewStyle()
	p.failure = r.NewStyle()
	p.dim = r.NewStyle()
	if color {
		p.title = p.title.Bold(true).Foreground(lipgloss.Color("12"))
		p.header = p.header.Foreground(lipgloss.Color("241"))
		p.value = p.value.Bold(true).Foreground(lipgloss.Color("10"))
		p.failure = p.failure.Foreground(lipgloss.Color("9"))
		p.dim = p.dim.Foreground(lipgloss.Color("245"))
	}
	return p
}

// Write passes status text straight through, under the printer lock.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.formatter != nil {
		// status lines would break a json/yaml stream
		return len(b), nil
	}
	return p.out.Write(b)
}

// Println writes a plain line in text mode.
func (p *Printer) Println(a ...any) {
	_, _ = p.Write([]byte(fmt.Sprintln(a...)))
}

func (p *Printer) Printf(format string, a ...any) {
	_, _ = p.Write([]byte(fmt.Sprintf(format, a...)))
}

// Prompt writes interactive text: questions, menus and re-prompt hints.
// It is written in every output format, since the operator has to see
// what is being asked.
func (p *Printer) Prompt(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, s)
}

// Inbound reports one received value. It has the receive handler signature.
func (p *Printer) Inbound(_ context.Context, env *message.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	peer := ""
	if env.Peer != nil {
		peer = env.Peer.String()
	}
	if p.formatter != nil {
		ev := Event{Event: "received", Peer: peer, At: env.At}
		fillValue(&ev, env.Value)
		if env.Err != nil {
			ev.Error = env.Err.Error()
			ev.Frame = env.Frame
		}
		_, err := io.WriteString(p.out, p.formatter.Format(ev))
		return err
	}

	fmt.Fprintf(p.out, "\n%s\n", p.header.Render("Received raw data from "+peer))
	switch {
	case env.Err != nil && len(env.Frame) < 2 && errors.Is(env.Err, codec.ErrFrameTooShort):
		fmt.Fprintln(p.out, p.failure.Render("Received data is too short to process."))
	case errors.Is(env.Err, codec.ErrDecodingEncoding):
		fmt.Fprintln(p.out, p.failure.Render("Error decoding data: "+env.Err.Error()))
	case env.Err != nil:
		fmt.Fprintln(p.out, p.failure.Render("Error unpacking data: "+env.Err.Error()))
	case env.Value == nil:
	case env.Value.Kind().Known():
		fmt.Fprintf(p.out, "Received %s: %s\n", env.Value.Kind().Name(), p.value.Render(env.Value.String()))
	default:
		u, _ := env.Value.(message.Unknown)
		fmt.Fprintf(p.out, "Received unknown data type: %q (0x%02x), %d payload bytes\n", rune(u.Tag), u.Tag, len(u.Raw))
	}
	return nil
}

// Sent reports the outcome for one outbound token.
func (p *Printer) Sent(r sender.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.formatter != nil {
		ev := Event{Event: "sent", Peer: r.Target, Token: r.Token, Tag: string(rune(r.Kind)), Type: r.Kind.Name(), At: time.Now()}
		fillValue(&ev, r.Value)
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		_, _ = io.WriteString(p.out, p.formatter.Format(ev))
		return
	}

	switch {
	case r.Err == nil:
		fmt.Fprintln(p.out, p.dim.Render(fmt.Sprintf("Sent %s: %s to %s", r.Kind.Name(), r.Token, r.Target)))
	case errors.Is(r.Err, codec.ErrEncodingRange):
		fmt.Fprintln(p.out, p.failure.Render(fmt.Sprintf("Error packing data: %v", r.Err)))
	case errors.Is(r.Err, codec.ErrEncodingFormat):
		fmt.Fprintln(p.out, p.failure.Render(fmt.Sprintf("Invalid input for the chosen data type: %v", r.Err)))
	default:
		fmt.Fprintln(p.out, p.failure.Render(fmt.Sprintf("Error sending data: %v", r.Err)))
	}
}

func fillValue(ev *Event, v message.Value) {
	if v == nil {
		return
	}
	rec := codec.NewRecord(v)
	ev.Tag, ev.Type, ev.Value, ev.Raw = rec.Tag, rec.Type, rec.Value, rec.Raw
}
