// Package analyzer implements the correlation and aggregation engine: it
// pairs probe requests with their reflections, expires unmatched samples,
// and emits per-peer and per-datacenter aggregates onto the event bus on a
// fixed tick.
package analyzer

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/model"
)

// TickInterval is the fixed boundary at which pending samples are drained
// and aggregates are emitted.
const TickInterval = 5 * time.Second

// CarryAge is the minimum age a pending sample must reach before it is
// eligible to be batched into a tick; younger entries are re-inserted to
// give the response one more tick to arrive.
const CarryAge = 1 * time.Second

// SampleChannelCapacity is the bounded capacity of the intake channel.
const SampleChannelCapacity = 1000

type pendingKey struct {
	peerID  string
	probeID uint64
}

type pendingEntry struct {
	reqTime  time.Time
	respTime time.Time
	hasResp  bool
}

// Analyzer owns the pending-sample table exclusively; no other goroutine
// touches it, so the table itself needs no lock.
type Analyzer struct {
	selfID         string
	selfDatacenter string
	peers          map[string]model.Peer // for datacenter-prefix lookups
	bus            *bus.Bus
	samples        chan model.SampleEvent

	pending map[pendingKey]pendingEntry
}

// New constructs an Analyzer scoped to selfID, publishing aggregates for
// peers onto b. self is looked up in peers to learn the local datacenter,
// if any.
func New(selfID string, peers map[string]model.Peer, b *bus.Bus) *Analyzer {
	return &Analyzer{
		selfID:         selfID,
		selfDatacenter: peers[selfID].Datacenter,
		peers:          peers,
		bus:            b,
		samples:        make(chan model.SampleEvent, SampleChannelCapacity),
		pending:        make(map[pendingKey]pendingEntry),
	}
}

// Sender returns the publish function Echo Clients should be wired to.
func (a *Analyzer) Sender() func(model.SampleEvent) {
	return func(ev model.SampleEvent) {
		select {
		case a.samples <- ev:
		default:
			log.Printf("WARNING analyzer: sample channel full, dropping event for peer %s", ev.PeerID)
		}
	}
}

// Run drains samples and ticks aggregation until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.samples:
			a.addEvent(ev)
		case now := <-ticker.C:
			a.tick(now)
		}
	}
}

// addEvent applies one sample to the pending table.
//
//   - absent + Req:  insert a fresh entry.
//   - absent + Resp: an unmatched reply, possibly late from a previous
//     tick; dropped.
//   - present + Req: a duplicate id; dropped.
//   - present + Resp: binds the response time (last writer wins).
func (a *Analyzer) addEvent(ev model.SampleEvent) {
	key := pendingKey{peerID: ev.PeerID, probeID: ev.ProbeID}
	entry, ok := a.pending[key]

	switch {
	case !ok && ev.Type == model.SampleReq:
		a.pending[key] = pendingEntry{reqTime: ev.ObservedAt}
	case !ok && ev.Type == model.SampleResp:
		// got a response without a request; ignore.
	case ok && ev.Type == model.SampleReq:
		// got a request twice; doesn't make sense, drop it.
	case ok && ev.Type == model.SampleResp:
		entry.respTime = ev.ObservedAt
		entry.hasResp = true
		a.pending[key] = entry
	}
}

// tick swaps the pending table for an empty one, carries young entries
// forward, and aggregates the rest by peer and by datacenter.
func (a *Analyzer) tick(now time.Time) {
	old := a.pending
	a.pending = make(map[pendingKey]pendingEntry, len(old)/2)

	type batched struct {
		peerID string
		entry  pendingEntry
	}
	var batch []batched

	for key, entry := range old {
		if now.Sub(entry.reqTime) < CarryAge {
			a.pending[key] = entry
			continue
		}
		batch = append(batch, batched{peerID: key.peerID, entry: entry})
	}

	if len(batch) == 0 {
		return
	}

	byPeer := make(map[string][]pendingEntry)
	for _, b := range batch {
		byPeer[b.peerID] = append(byPeer[b.peerID], b.entry)
	}

	peerAggs := make(map[string]model.PerPeerAggregate, len(byPeer))
	for peerID, entries := range byPeer {
		agg := model.PerPeerAggregate{
			Timestamp: now,
			SelfID:    a.selfID,
			PeerID:    peerID,
			ReqCount:  uint16(len(entries)),
		}
		for _, e := range entries {
			if !e.hasResp {
				continue
			}
			agg.RespCount++
			if e.respTime.Before(e.reqTime) {
				// clock went backwards between REQ and RESP; still
				// counted as responded, but latency is undefined.
				continue
			}
			lat := e.respTime.Sub(e.reqTime)
			if agg.MinLatency == nil || lat < *agg.MinLatency {
				l := lat
				agg.MinLatency = &l
			}
			if agg.MaxLatency == nil || lat > *agg.MaxLatency {
				l := lat
				agg.MaxLatency = &l
			}
		}
		peerAggs[peerID] = agg
		a.bus.Publish(model.BroadcastEvent{Kind: model.EventPerPeer, PerPeer: copyPerPeer(agg)})
	}

	a.aggregateDatacenters(now, peerAggs)
}

func copyPerPeer(a model.PerPeerAggregate) *model.PerPeerAggregate {
	v := a
	return &v
}

// aggregateDatacenters rolls per-peer aggregates up through each peer's
// datacenter prefix hierarchy and emits one event per prefix reached.
func (a *Analyzer) aggregateDatacenters(now time.Time, peerAggs map[string]model.PerPeerAggregate) {
	dc := make(map[string]*model.PerDatacenterAggregate)

	// Deterministic iteration keeps tests and logs stable.
	peerIDs := make([]string, 0, len(peerAggs))
	for id := range peerAggs {
		peerIDs = append(peerIDs, id)
	}
	sort.Strings(peerIDs)

	for _, peerID := range peerIDs {
		pa := peerAggs[peerID]
		peer, ok := a.peers[peerID]
		if !ok {
			continue
		}
		for _, prefix := range peer.DatacenterPrefixes() {
			entry, ok := dc[prefix]
			if !ok {
				entry = &model.PerDatacenterAggregate{
					Timestamp:      now,
					SelfID:         a.selfID,
					DatacenterFrom: a.selfDatacenter,
					DatacenterTo:   prefix,
					PeerToIP:       peer.IP,
				}
				dc[prefix] = entry
			}
			entry.ReqCount += pa.ReqCount
			entry.RespCount += pa.RespCount

			// Min and max are folded independently, each against its
			// own running extreme.
			if pa.MinLatency != nil && (entry.MinLatency == nil || *pa.MinLatency < *entry.MinLatency) {
				v := *pa.MinLatency
				entry.MinLatency = &v
			}
			if pa.MaxLatency != nil && (entry.MaxLatency == nil || *pa.MaxLatency > *entry.MaxLatency) {
				v := *pa.MaxLatency
				entry.MaxLatency = &v
			}
		}
	}

	prefixes := make([]string, 0, len(dc))
	for p := range dc {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		a.bus.Publish(model.BroadcastEvent{Kind: model.EventPerDatacenter, PerDC: dc[p]})
	}
}
