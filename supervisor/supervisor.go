// Package supervisor wires every component together from a resolved
// model.Config and runs the mesh agent until the Echo Server exits or the
// context is cancelled.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/easybill/mehsh/analyzer"
	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/echo"
	"github.com/easybill/mehsh/httpcheck"
	"github.com/easybill/mehsh/model"
	"github.com/easybill/mehsh/report"
	"github.com/easybill/mehsh/subscriber"
)

// Run constructs the full topology for cfg and blocks until the Echo
// Server exits or ctx is cancelled, at which point every other spawned
// task is cancelled too.
func Run(ctx context.Context, cfg model.Config) error {
	b := bus.New()

	g, ctx := errgroup.WithContext(ctx)

	udpAnalyzer := analyzer.New(cfg.Self, cfg.Peers, b)
	httpAnalyzer := analyzer.NewHTTP(cfg.Self, b)
	g.Go(func() error { return udpAnalyzer.Run(ctx) })
	g.Go(func() error { return httpAnalyzer.Run(ctx) })

	if cfg.MetricEmitterEnabled {
		metric, err := subscriber.NewMetric()
		if err != nil {
			return fmt.Errorf("supervisor: metric subscriber: %w", err)
		}
		g.Go(func() error { return metric.Run(ctx, b) })
	}

	var reportIndex *report.Index
	if cfg.ReportRoot != "" {
		idx, err := report.OpenIndex(filepath.Join(cfg.ReportRoot, "index.db"))
		if err != nil {
			log.Printf("WARNING supervisor: report index unavailable: %v", err)
		} else {
			reportIndex = idx
			defer idx.Close()
		}
	}

	for _, analysisCfg := range cfg.Analyses {
		if analysisCfg.From.Identifier != cfg.Self {
			continue
		}
		if analysisCfg.To.Identifier == cfg.Self {
			continue
		}
		sub := report.NewSubscriber(analysisCfg, cfg.ReportRoot, func(rec model.ReportRecord) {
			if reportIndex == nil {
				return
			}
			if err := reportIndex.Insert(rec); err != nil {
				log.Printf("WARNING supervisor: report index insert: %v", err)
			}
		})
		g.Go(func() error { return sub.Run(ctx, b) })
	}

	for _, check := range cfg.Checks {
		if check.From.Identifier != cfg.Self {
			continue
		}

		switch check.Kind {
		case model.CheckUDPPing:
			client, err := echo.NewClient(check.To.Identifier, check.To.IP, udpAnalyzer.Sender())
			if err != nil {
				return fmt.Errorf("supervisor: udp_ping %s -> %s: %w", check.From.Identifier, check.To.Identifier, err)
			}
			g.Go(func() error {
				defer client.Close()
				return client.Run(ctx)
			})
		case model.CheckHTTP:
			c := httpcheck.New(check.To.Identifier, check.HTTPURL, httpAnalyzer.Sender())
			g.Go(func() error { return c.Run(ctx) })
		default:
			return fmt.Errorf("supervisor: unknown check kind %q", check.Kind)
		}
	}

	server, err := echo.Listen()
	if err != nil {
		return fmt.Errorf("supervisor: echo server: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		return server.Close()
	})

	stdout := subscriber.NewStdout()
	g.Go(func() error { return stdout.Run(ctx, b) })

	// The supervisor's own completion is gated on the Echo Server: if it
	// exits, the process exits.
	serverErr := server.Run()
	_ = g.Wait()
	return serverErr
}
