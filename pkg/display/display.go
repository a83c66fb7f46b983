// Package display renders live stream summaries in the terminal.
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"qstream/pkg/engine"
	"qstream/pkg/protocol"
)

type summaryMsg engine.Summary

// Model is the bubbletea model. Pressing c, q or ctrl+c stops the stream.
type Model struct {
	addr    string
	latest  *engine.Summary
	total   int
	stopped bool
	cancel  func()
}

func NewModel(addr string, cancel func()) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return Model{addr: addr, cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "c", "q", "ctrl+c":
			m.stopped = true
			m.cancel()
			return m, tea.Quit
		}
	case summaryMsg:
		s := engine.Summary(msg)
		m.latest = &s
		m.total += s.Packets
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "qstream %s  (press c to stop)\n", m.addr)
	if m.latest == nil {
		b.WriteString("waiting for data...\n")
		return b.String()
	}

	s := m.latest
	fmt.Fprintf(&b, "elapsed %6.1fs  packets %d (total %d)  discarded %d  bytes %d  tx %.6f\n",
		s.Elapsed.Seconds(), s.Packets, m.total, s.Discarded, s.PayloadBytes, s.TransmitTimestamp)
	for _, t := range protocol.DecodableChannelTypes {
		ts, ok := s.Channels[t]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%-7s frames %5d  entries %7d  %s %s\n",
			t, ts.Frames, ts.Entries, ts.Kind, formatValue(t, ts.Value))
		for _, ch := range ts.Channels {
			fmt.Fprintf(&b, "  ch %-4d frames %5d  entries %7d  %s\n",
				ch.ChannelID, ch.Frames, ch.Entries, formatValue(t, ch.Value))
		}
	}
	for _, fix := range s.GpsFixes {
		fmt.Fprintf(&b, "gps     ch %d  t %.6f  accuracy %dns  leap %d (valid %t)\n",
			fix.ChannelID, fix.Timestamp, fix.AccuracyNs, fix.LeapSeconds, fix.LeapSecondsValid)
		if msg := strings.TrimSpace(fix.Message); msg != "" {
			fmt.Fprintf(&b, "  %s\n", msg)
		}
	}
	if m.stopped {
		b.WriteString("stopping...\n")
	}
	return b.String()
}

func formatValue(t protocol.ChannelType, v float64) string {
	switch t {
	case protocol.ChannelCanFd:
		return fmt.Sprintf("%.0f", v)
	case protocol.ChannelTacho, protocol.ChannelGps:
		return fmt.Sprintf("%.6f", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}

// Display drives a bubbletea program fed from the hub.
type Display struct {
	hub  *engine.Hub
	addr string
	in   io.Reader
	out  io.Writer
	done chan struct{}
	once sync.Once
}

type Option func(*Display)

func WithInput(r io.Reader) Option {
	return func(d *Display) { d.in = r }
}

func WithOutput(w io.Writer) Option {
	return func(d *Display) { d.out = w }
}

func New(hub *engine.Hub, addr string, opts ...Option) *Display {
	d := &Display{
		hub:  hub,
		addr: addr,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CancelCheck fires once the user asked to stop.
func (d *Display) CancelCheck() engine.CancelCheck {
	return engine.CancelOnClose(d.done)
}

func (d *Display) stop() {
	d.once.Do(func() { close(d.done) })
}

func (d *Display) Run(ctx context.Context) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if d.in != nil {
		opts = append(opts, tea.WithInput(d.in))
	}
	if d.out != nil {
		opts = append(opts, tea.WithOutput(d.out))
	}
	p := tea.NewProgram(NewModel(d.addr, d.stop), opts...)

	sub := d.hub.Subscribe()
	go func() {
		for s := range sub {
			p.Send(summaryMsg(s))
		}
	}()
	defer d.hub.Unsubscribe(sub)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("display: %w", err)
	}
	return nil
}
