package subscriber

import (
	"context"
	"fmt"
	"log"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/model"
)

// MetricEndpoint is the fixed local statsd-like endpoint aggregate events
// are forwarded to.
const MetricEndpoint = "127.0.0.1:1113"

// Metric forwards three counters per PerPeerAggregate event: aggregate
// loss, send-loss tagged by the originating peer, and recv-loss tagged by
// the destination peer.
type Metric struct {
	client *statsd.Client
}

// NewMetric dials MetricEndpoint. Send failures during Run are logged and
// ignored, never fatal — a dropped metric must never take down a check.
func NewMetric() (*Metric, error) {
	client, err := statsd.New(MetricEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metric subscriber: %w", err)
	}
	return &Metric{client: client}, nil
}

// Run subscribes to b and forwards counters until ctx is cancelled.
func (m *Metric) Run(ctx context.Context, b *bus.Bus) error {
	sub := b.Subscribe()
	defer sub.Unsubscribe()
	defer m.client.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.C():
			if ev.Kind != model.EventPerPeer || ev.PerPeer == nil {
				continue
			}
			m.send(*ev.PerPeer)
		}
	}
}

func (m *Metric) send(a model.PerPeerAggregate) {
	loss := float64(a.Loss())

	if err := m.client.Count("mehsh.loss", int64(loss), nil, 1); err != nil {
		log.Printf("WARNING mehsh could not send udp metrics: %v", err)
		return
	}
	if err := m.client.Count("mehsh.sendloss", int64(loss), []string{"from:" + a.SelfID}, 1); err != nil {
		log.Printf("WARNING mehsh could not send udp metrics: %v", err)
	}
	if err := m.client.Count("mehsh.recvloss", int64(loss), []string{"to:" + a.PeerID}, 1); err != nil {
		log.Printf("WARNING mehsh could not send udp metrics: %v", err)
	}
}
