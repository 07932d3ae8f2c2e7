package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/easybill/mehsh/model"
)

func TestRunUnknownCheckKindIsFatal(t *testing.T) {
	cfg := model.Config{
		Self: "self",
		Peers: map[string]model.Peer{
			"self": {Identifier: "self", IP: net.IPv4(127, 0, 0, 1)},
			"peer": {Identifier: "peer", IP: net.IPv4(127, 0, 0, 1)},
		},
		Checks: []model.ResolvedCheck{
			{From: model.Peer{Identifier: "self"}, To: model.Peer{Identifier: "peer"}, Kind: "carrier_pigeon"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Run(ctx, cfg)
	if err == nil {
		t.Fatalf("expected fatal error for unknown check kind")
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	cfg := model.Config{
		Self: "self",
		Peers: map[string]model.Peer{
			"self": {Identifier: "self", IP: net.IPv4(127, 0, 0, 1)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not shut down after cancellation")
	}
}
