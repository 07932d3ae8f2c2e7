package config

import "testing"

func sampleRaw() Raw {
	return Raw{
		Self: "server1",
		Peers: []rawPeer{
			{Identifier: "server1", IP: "127.0.0.1", Datacenter: "eu.de.fra1", Groups: []string{"g1"}},
			{Identifier: "server2", IP: "127.0.0.2", Datacenter: "eu.de.muc1", Groups: []string{"g1", "g2"}},
		},
		Groups: []rawGroup{{Name: "g1"}, {Name: "g2"}},
		Checks: []rawCheck{
			{From: "server1", To: "g2", Kind: "udp_ping"},
		},
	}
}

func TestResolveGroupExpandsToMembers(t *testing.T) {
	cfg, err := Resolve(sampleRaw())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cfg.Checks) != 1 {
		t.Fatalf("got %d checks, want 1", len(cfg.Checks))
	}
	if cfg.Checks[0].To.Identifier != "server2" {
		t.Fatalf("got to=%s, want server2", cfg.Checks[0].To.Identifier)
	}
}

func TestResolveAmbiguousIdentifierIsFatal(t *testing.T) {
	raw := sampleRaw()
	raw.Peers = append(raw.Peers, rawPeer{Identifier: "g1", IP: "127.0.0.3"})
	_, err := Resolve(raw)
	if err == nil {
		t.Fatalf("expected error for ambiguous identifier")
	}
}

func TestResolveUnknownIdentifierYieldsNoChecks(t *testing.T) {
	raw := sampleRaw()
	raw.Checks = []rawCheck{{From: "server1", To: "nonexistent", Kind: "udp_ping"}}
	cfg, err := Resolve(raw)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cfg.Checks) != 0 {
		t.Fatalf("got %d checks, want 0", len(cfg.Checks))
	}
}

func TestResolveUnknownKindIsFatal(t *testing.T) {
	raw := sampleRaw()
	raw.Checks = []rawCheck{{From: "server1", To: "server2", Kind: "carrier_pigeon"}}
	_, err := Resolve(raw)
	if err == nil {
		t.Fatalf("expected error for unknown check kind")
	}
}
