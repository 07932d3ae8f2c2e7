// Package httpcheck implements the "http" check kind: a simple liveness
// poll, far lighter than the UDP echo check, whose only contract is that
// it also publishes events onto the shared bus.
package httpcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/easybill/mehsh/model"
)

// PollInterval is the cadence at which a Check polls its URL, kept in
// line with the analyzer's own tick interval so a tick never sees a
// sample count wildly out of proportion to the UDP checks sharing the
// bus.
const PollInterval = 5 * time.Second

// RequestTimeout bounds a single poll.
const RequestTimeout = 10 * time.Second

// Check polls URL every PollInterval and publishes an HTTPSampleEvent per
// attempt.
type Check struct {
	PeerID  string
	URL     string
	publish func(model.HTTPSampleEvent)
	client  *http.Client
}

// New constructs a Check wired to publish.
func New(peerID, url string, publish func(model.HTTPSampleEvent)) *Check {
	return &Check{
		PeerID:  peerID,
		URL:     url,
		publish: publish,
		client:  &http.Client{Timeout: RequestTimeout},
	}
}

// Run polls until ctx is cancelled.
func (c *Check) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Check) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		c.publish(model.HTTPSampleEvent{PeerID: c.PeerID, ObservedAt: time.Now(), Err: err})
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.publish(model.HTTPSampleEvent{PeerID: c.PeerID, ObservedAt: time.Now(), Err: err})
		return
	}
	defer resp.Body.Close()

	c.publish(model.HTTPSampleEvent{PeerID: c.PeerID, ObservedAt: time.Now(), StatusCode: resp.StatusCode})
}
