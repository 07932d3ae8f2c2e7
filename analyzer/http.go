package analyzer

import (
	"context"
	"time"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/model"
)

// HTTPChannelCapacity bounds the HTTP sample intake the same way the UDP
// analyzer bounds SampleEvent intake.
const HTTPChannelCapacity = 1000

// HTTPAnalyzer aggregates HTTPSampleEvents into a PerPeerHTTPAggregate
// once per TickInterval, making each HTTP check a genuine bus producer.
type HTTPAnalyzer struct {
	selfID  string
	bus     *bus.Bus
	samples chan model.HTTPSampleEvent
}

// NewHTTP constructs an HTTPAnalyzer scoped to selfID.
func NewHTTP(selfID string, b *bus.Bus) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		selfID:  selfID,
		bus:     b,
		samples: make(chan model.HTTPSampleEvent, HTTPChannelCapacity),
	}
}

// Sender returns the publish function HTTP Checks should be wired to.
func (h *HTTPAnalyzer) Sender() func(model.HTTPSampleEvent) {
	return func(ev model.HTTPSampleEvent) {
		select {
		case h.samples <- ev:
		default:
		}
	}
}

// Run accumulates samples per peer and flushes one aggregate per peer
// every TickInterval until ctx is cancelled.
func (h *HTTPAnalyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	type acc struct {
		up, down int
		lastErr  string
	}
	byPeer := make(map[string]*acc)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.samples:
			a, ok := byPeer[ev.PeerID]
			if !ok {
				a = &acc{}
				byPeer[ev.PeerID] = a
			}
			if ev.Err != nil {
				a.down++
				a.lastErr = ev.Err.Error()
			} else {
				a.up++
			}
		case now := <-ticker.C:
			for peerID, a := range byPeer {
				h.bus.Publish(model.BroadcastEvent{
					Kind: model.EventPerPeerHTTP,
					PerPeerHTTP: &model.PerPeerHTTPAggregate{
						Timestamp: now,
						SelfID:    h.selfID,
						PeerID:    peerID,
						UpCount:   a.up,
						DownCount: a.down,
						LastError: a.lastErr,
					},
				})
			}
			byPeer = make(map[string]*acc)
		}
	}
}
