package report

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/maintenance"
	"github.com/easybill/mehsh/model"
)

// WarmUp is how long a freshly constructed Subscriber waits before its
// first diagnostic may run.
const WarmUp = 20 * time.Second

// Cooldown is the minimum spacing between two diagnostics for one route.
const Cooldown = 120 * time.Second

// Subscriber is the per-route Report Subscriber: it watches the bus for
// PerPeerAggregate events on its configured route and, on sustained loss,
// signals its Runner to start — subject to the cooldown and the
// maintenance gate.
type Subscriber struct {
	cfg    model.ResolvedRouteAnalysisConfig
	runner *Runner

	cooldownUntil time.Time
	onReport      func(model.ReportRecord)
}

// NewSubscriber constructs a Subscriber for cfg, writing reports under
// reportRoot. onReport, if non-nil, is invoked after each report is
// written (wired to the Report Index in the supervisor).
func NewSubscriber(cfg model.ResolvedRouteAnalysisConfig, reportRoot string, onReport func(model.ReportRecord)) *Subscriber {
	return &Subscriber{
		cfg:           cfg,
		runner:        NewRunner(cfg.Name, reportRoot, expandFromTokens(cfg.CommandTemplate, cfg.From)),
		cooldownUntil: time.Now().Add(WarmUp),
		onReport:      onReport,
	}
}

// expandFromTokens substitutes the {{server.from.*}} tokens up front,
// since "from" is fixed for the lifetime of a route's Subscriber; the
// "to" tokens are substituted per run in Runner.StartIfIdle.
func expandFromTokens(template string, from model.Peer) string {
	r := strings.NewReplacer(
		"{{server.from.ip}}", from.IP.String(),
		"{{server.from.extra1}}", from.Extra[0],
		"{{server.from.extra2}}", from.Extra[1],
		"{{server.from.extra3}}", from.Extra[2],
	)
	return r.Replace(template)
}

// Run subscribes to b and reacts to matching aggregate events until ctx
// is cancelled.
func (s *Subscriber) Run(ctx context.Context, b *bus.Bus) error {
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.C():
			if ev.Kind != model.EventPerPeer || ev.PerPeer == nil {
				continue
			}
			s.onAggregate(ctx, *ev.PerPeer)
		}
	}
}

func (s *Subscriber) onAggregate(ctx context.Context, ev model.PerPeerAggregate) {
	if ev.PeerID != s.cfg.To.Identifier {
		return
	}
	if ev.SelfID != "" && ev.SelfID != s.cfg.From.Identifier {
		return
	}
	if uint32(ev.Loss()) < s.cfg.MinLossThreshold {
		return
	}

	now := time.Now()
	if now.Before(s.cooldownUntil) {
		log.Printf("report %s: skip, recently ran", s.cfg.Name)
		return
	}
	if maintenance.IsActive() {
		log.Printf("report %s: skip, maintenance", s.cfg.Name)
		return
	}

	s.runner.StartIfIdle(ctx, s.cfg.To, s.onReport)
	s.cooldownUntil = now.Add(Cooldown)
}
