// Package subscriber implements the stateless bus consumers: the stdout
// renderer and the UDP metric forwarder.
package subscriber

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/maintenance"
	"github.com/easybill/mehsh/model"
)

var (
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	noLossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	maintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	normalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Stdout renders one human-readable line per aggregate event, tagged with
// the current maintenance mode.
type Stdout struct {
	colorize bool
}

// NewStdout constructs a Stdout subscriber. Coloring is enabled only when
// stdout is a terminal.
func NewStdout() *Stdout {
	return &Stdout{colorize: isatty.IsTerminal(os.Stdout.Fd())}
}

// Run subscribes to b and prints until ctx is cancelled.
func (s *Stdout) Run(ctx context.Context, b *bus.Bus) error {
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.C():
			s.render(ev)
		}
	}
}

func (s *Stdout) modeTag() string {
	tag := "normal"
	if maintenance.IsActive() {
		tag = "maintenance"
	}
	if !s.colorize {
		return tag
	}
	if tag == "maintenance" {
		return maintStyle.Render(tag)
	}
	return normalStyle.Render(tag)
}

func (s *Stdout) lossTag(loss uint16) string {
	word := "withoutloss"
	if loss > 0 {
		word = "withloss"
	}
	if !s.colorize {
		return word
	}
	if loss > 0 {
		return lossStyle.Render(word)
	}
	return noLossStyle.Render(word)
}

func (s *Stdout) render(ev model.BroadcastEvent) {
	switch ev.Kind {
	case model.EventPerPeer:
		a := ev.PerPeer
		fmt.Printf("%s server: %s -> %s, req: %d, resp: %d, max_lat: %s, min_lat: %s, mode: %s, loss: %d, %s\n",
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.SelfID, a.PeerID,
			a.ReqCount, a.RespCount,
			formatLatency(a.MaxLatency), formatLatency(a.MinLatency),
			s.modeTag(), a.Loss(), s.lossTag(a.Loss()),
		)
	case model.EventPerDatacenter:
		a := ev.PerDC
		fmt.Printf("%s datacenter: %s -> %s, req: %d, resp: %d, max_lat: %s, min_lat: %s, mode: %s, loss: %d, %s\n",
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.DatacenterFrom, a.DatacenterTo,
			a.ReqCount, a.RespCount,
			formatLatency(a.MaxLatency), formatLatency(a.MinLatency),
			s.modeTag(), a.Loss(), s.lossTag(a.Loss()),
		)
	case model.EventPerPeerHTTP:
		a := ev.PerPeerHTTP
		fmt.Printf("%s http: %s, up: %d, down: %d, last_err: %s, mode: %s\n",
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.PeerID, a.UpCount, a.DownCount, a.LastError, s.modeTag(),
		)
	}
}

func formatLatency(d *time.Duration) string {
	if d == nil {
		return "n/a"
	}
	return humanize.SIWithDigits(float64(*d)/1e9, 3, "s")
}
