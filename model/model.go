// Package model holds the shared data types that flow between mehsh's
// components: resolved fleet topology, per-sample events, and the
// aggregates the analyzer emits onto the event bus.
package model

import (
	"net"
	"strings"
	"time"
)

// CheckKind names the kind of active check a Check entry configures.
type CheckKind string

const (
	CheckUDPPing CheckKind = "udp_ping"
	CheckHTTP    CheckKind = "http"
)

// Peer is a single mesh node as declared in the fleet configuration.
type Peer struct {
	Identifier string
	IP         net.IP
	Datacenter string
	Groups     []string
	// Extra backs the {{server.<side>.extraN}} command-template tokens
	// (N in 1..3); missing entries are the empty string.
	Extra [3]string
}

// DatacenterPrefixes returns every dotted prefix of the peer's datacenter
// identifier, e.g. "eu.de.fra1" -> ["eu", "eu.de", "eu.de.fra1"].
func (p Peer) DatacenterPrefixes() []string {
	if p.Datacenter == "" {
		return nil
	}
	parts := strings.Split(p.Datacenter, ".")
	prefixes := make([]string, 0, len(parts))
	for i := range parts {
		prefixes = append(prefixes, strings.Join(parts[:i+1], "."))
	}
	return prefixes
}

// Group is a named set of peer identifiers.
type Group struct {
	Name    string
	Members []string
}

// CheckConfig is a check as declared before group references are resolved.
type CheckConfig struct {
	From    string
	To      string
	Kind    CheckKind
	HTTPURL string
}

// ResolvedCheck is a CheckConfig after From/To have been expanded to
// concrete peers.
type ResolvedCheck struct {
	From    Peer
	To      Peer
	Kind    CheckKind
	HTTPURL string
}

// RouteAnalysisConfig is a reactive-diagnostic policy as declared before
// group resolution.
type RouteAnalysisConfig struct {
	Name             string
	From             string
	To               string
	MinLossThreshold uint32
	CommandTemplate  string
}

// ResolvedRouteAnalysisConfig is a RouteAnalysisConfig scoped to one
// concrete peer pair.
type ResolvedRouteAnalysisConfig struct {
	Name             string
	From             Peer
	To               Peer
	MinLossThreshold uint32
	CommandTemplate  string
}

// Config is the fully resolved object the core engine consumes; building
// it from a declarative file is the config loader's job, not the core's.
type Config struct {
	Self                 string
	Peers                map[string]Peer
	Groups               map[string]Group
	Checks               []ResolvedCheck
	Analyses             []ResolvedRouteAnalysisConfig
	MetricEmitterEnabled bool
	ReportRoot           string
}

// SampleEvent is published by an Echo Client on every send (Req) and every
// receive (Resp) of a probe for one peer.
type SampleEvent struct {
	PeerID     string
	ProbeID    uint64
	Type       SampleType
	ObservedAt time.Time
}

type SampleType uint8

const (
	SampleReq SampleType = iota
	SampleResp
)

// PerPeerAggregate is one tick's loss/latency summary for a single peer.
type PerPeerAggregate struct {
	Timestamp  time.Time
	SelfID     string
	PeerID     string
	ReqCount   uint16
	RespCount  uint16
	MinLatency *time.Duration
	MaxLatency *time.Duration
}

// Loss is req-resp; construction guarantees it is never negative.
func (a PerPeerAggregate) Loss() uint16 {
	if a.RespCount > a.ReqCount {
		return 0
	}
	return a.ReqCount - a.RespCount
}

// PerDatacenterAggregate is one tick's rolled-up summary for a datacenter
// prefix (see Peer.DatacenterPrefixes).
type PerDatacenterAggregate struct {
	Timestamp      time.Time
	SelfID         string
	DatacenterFrom string
	DatacenterTo   string
	PeerToIP       net.IP
	ReqCount       uint16
	RespCount      uint16
	MinLatency     *time.Duration
	MaxLatency     *time.Duration
}

func (a PerDatacenterAggregate) Loss() uint16 {
	if a.RespCount > a.ReqCount {
		return 0
	}
	return a.ReqCount - a.RespCount
}

// HTTPSampleEvent is published by an HTTP Check on every poll.
type HTTPSampleEvent struct {
	PeerID     string
	ObservedAt time.Time
	StatusCode int
	Err        error
}

// PerPeerHTTPAggregate is one tick's up/down summary for an HTTP check.
type PerPeerHTTPAggregate struct {
	Timestamp time.Time
	SelfID    string
	PeerID    string
	UpCount   int
	DownCount int
	LastError string
}

// BroadcastEventKind tags the variant carried by a BroadcastEvent so that
// subscribers can ignore tags they don't understand.
type BroadcastEventKind uint8

const (
	EventPerPeer BroadcastEventKind = iota
	EventPerDatacenter
	EventPerPeerHTTP
)

// BroadcastEvent is the single type carried on the event bus; exactly one
// of the pointer fields is set, selected by Kind.
type BroadcastEvent struct {
	Kind        BroadcastEventKind
	PerPeer     *PerPeerAggregate
	PerDC       *PerDatacenterAggregate
	PerPeerHTTP *PerPeerHTTPAggregate
}

// ReportRecord is one row the Report Index keeps per diagnostic report
// actually written to disk.
type ReportRecord struct {
	Analysis  string
	ToPeer    string
	StartedAt time.Time
	Path      string
	ExitCode  int
	SizeBytes int64
}
