package analyzer

import (
	"testing"
	"time"

	"github.com/easybill/mehsh/bus"
	"github.com/easybill/mehsh/model"
)

func newTestAnalyzer(peers map[string]model.Peer) (*Analyzer, *bus.Subscription) {
	b := bus.New()
	sub := b.Subscribe()
	a := New("self", peers, b)
	return a, sub
}

func TestHappyRoundTrip(t *testing.T) {
	a, sub := newTestAnalyzer(nil)
	t0 := time.Unix(0, 0)

	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 1, Type: model.SampleReq, ObservedAt: t0})
	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 1, Type: model.SampleResp, ObservedAt: t0.Add(3 * time.Millisecond)})

	a.tick(t0.Add(2 * time.Second))

	ev, _ := sub.Recv()
	if ev.Kind != model.EventPerPeer {
		t.Fatalf("got kind %v", ev.Kind)
	}
	if ev.PerPeer.ReqCount != 1 || ev.PerPeer.RespCount != 1 {
		t.Fatalf("got %+v", ev.PerPeer)
	}
	if ev.PerPeer.MinLatency == nil || *ev.PerPeer.MinLatency != 3*time.Millisecond {
		t.Fatalf("got min latency %v", ev.PerPeer.MinLatency)
	}
}

func TestPureLoss(t *testing.T) {
	a, sub := newTestAnalyzer(nil)
	t0 := time.Unix(0, 0)

	for i := uint64(1); i <= 200; i++ {
		a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: i, Type: model.SampleReq, ObservedAt: t0})
	}

	a.tick(t0.Add(2 * time.Second))

	ev, _ := sub.Recv()
	if ev.PerPeer.ReqCount != 200 || ev.PerPeer.RespCount != 0 {
		t.Fatalf("got %+v", ev.PerPeer)
	}
	if ev.PerPeer.Loss() != 200 {
		t.Fatalf("got loss %d", ev.PerPeer.Loss())
	}
	if ev.PerPeer.MinLatency != nil || ev.PerPeer.MaxLatency != nil {
		t.Fatalf("expected undefined latency, got %+v", ev.PerPeer)
	}
}

func TestYoungEntryCarriedForward(t *testing.T) {
	a, sub := newTestAnalyzer(nil)
	t0 := time.Unix(0, 0)

	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 1, Type: model.SampleReq, ObservedAt: t0})

	// Less than CarryAge old: must be carried, not batched.
	a.tick(t0.Add(200 * time.Millisecond))

	select {
	case <-sub.C():
		t.Fatalf("did not expect an emitted aggregate for a too-young entry")
	default:
	}

	if _, ok := a.pending[pendingKey{peerID: "p1", probeID: 1}]; !ok {
		t.Fatalf("expected entry to be carried forward")
	}
}

func TestEmptyTickEmitsNothing(t *testing.T) {
	a, sub := newTestAnalyzer(nil)
	a.tick(time.Unix(0, 0))

	select {
	case <-sub.C():
		t.Fatalf("expected no emission on an empty tick")
	default:
	}
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 5, Type: model.SampleResp, ObservedAt: time.Unix(0, 0)})

	if _, ok := a.pending[pendingKey{peerID: "p1", probeID: 5}]; ok {
		t.Fatalf("unmatched response must not create a pending entry")
	}
}

func TestDuplicateRequestIsDropped(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	t0 := time.Unix(0, 0)
	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 5, Type: model.SampleReq, ObservedAt: t0})
	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 5, Type: model.SampleReq, ObservedAt: t0.Add(time.Second)})

	got := a.pending[pendingKey{peerID: "p1", probeID: 5}]
	if !got.reqTime.Equal(t0) {
		t.Fatalf("duplicate request must not overwrite the original req_time, got %v", got.reqTime)
	}
}

func TestDatacenterAggregationUsesCorrectMinMax(t *testing.T) {
	peers := map[string]model.Peer{
		"p1": {Identifier: "p1", Datacenter: "eu.de.fra1"},
		"p2": {Identifier: "p2", Datacenter: "eu.de.muc1"},
	}
	a, sub := newTestAnalyzer(peers)
	t0 := time.Unix(0, 0)

	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 1, Type: model.SampleReq, ObservedAt: t0})
	a.addEvent(model.SampleEvent{PeerID: "p1", ProbeID: 1, Type: model.SampleResp, ObservedAt: t0.Add(10 * time.Millisecond)})
	a.addEvent(model.SampleEvent{PeerID: "p2", ProbeID: 1, Type: model.SampleReq, ObservedAt: t0})
	a.addEvent(model.SampleEvent{PeerID: "p2", ProbeID: 1, Type: model.SampleResp, ObservedAt: t0.Add(50 * time.Millisecond)})

	a.tick(t0.Add(2 * time.Second))

	// Drain the two per-peer events first.
	<-sub.C()
	<-sub.C()

	var sawEu, sawEuDe bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub.C():
			if ev.Kind != model.EventPerDatacenter {
				continue
			}
			switch ev.PerDC.DatacenterTo {
			case "eu":
				sawEu = true
				if ev.PerDC.MinLatency == nil || *ev.PerDC.MinLatency != 10*time.Millisecond {
					t.Fatalf("eu min latency: got %v, want 10ms", ev.PerDC.MinLatency)
				}
				if ev.PerDC.MaxLatency == nil || *ev.PerDC.MaxLatency != 50*time.Millisecond {
					t.Fatalf("eu max latency: got %v, want 50ms", ev.PerDC.MaxLatency)
				}
			case "eu.de":
				sawEuDe = true
			}
		default:
		}
	}
	if !sawEu || !sawEuDe {
		t.Fatalf("expected rollups for both 'eu' and 'eu.de' prefixes")
	}
}
