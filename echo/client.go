package echo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/easybill/mehsh/model"
	"github.com/easybill/mehsh/wire"
)

// SendInterval is the fixed cadence at which a Client emits probes.
const SendInterval = 25 * time.Millisecond

// ProtocolVersion is embedded in every probe this implementation sends.
const ProtocolVersion = 1

// Client drives one outbound check against a single peer: one ephemeral
// socket shared by a sender and a receiver goroutine. Either goroutine
// terminating ends the client; the pair is not individually restarted by
// the supervisor, since the socket is owned jointly by both.
type Client struct {
	PeerID string

	conn    *net.UDPConn
	counter uint64 // monotonically increasing probe id, starts at 1
	publish func(model.SampleEvent)
}

// NewClient dials an ephemeral UDP socket toward peerIP on the fixed echo
// port and wires publish as the sink for every SampleEvent the pair
// produces.
func NewClient(peerID string, peerIP net.IP, publish func(model.SampleEvent)) (*Client, error) {
	return NewClientAddr(peerID, &net.UDPAddr{IP: peerIP, Port: Port}, publish)
}

// NewClientAddr is NewClient with an explicit remote address, used by
// tests that bind the peer's echo server to an ephemeral port.
func NewClientAddr(peerID string, remote *net.UDPAddr, publish func(model.SampleEvent)) (*Client, error) {
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("echo client %s: dial: %w", peerID, err)
	}
	return &Client{PeerID: peerID, conn: conn, publish: publish}, nil
}

// Close releases the socket, unblocking both Run goroutines.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run blocks until either the sender or the receiver terminates, then
// closes the shared socket (forcing the other task out) and returns the
// error that ended it first (nil for a clean shutdown via ctx or Close).
func (c *Client) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.runSender(ctx) }()
	go func() { errCh <- c.runReceiver() }()

	err := <-errCh
	_ = c.conn.Close()
	if second := <-errCh; err == nil {
		err = second
	}
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) runSender(ctx context.Context) error {
	ticker := time.NewTicker(SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			id := atomic.AddUint64(&c.counter, 1)

			// The sample is published before the datagram is sent, so the
			// analyzer can never observe a RESP before its matching REQ.
			c.publish(model.SampleEvent{
				PeerID:     c.PeerID,
				ProbeID:    id,
				Type:       model.SampleReq,
				ObservedAt: time.Now(),
			})

			pkt := wire.Encode(ProtocolVersion, id, wire.Req)
			if _, err := c.conn.Write(pkt); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				log.Printf("WARNING echo client %s: send: %v", c.PeerID, err)
			}
		}
	}
}

func (c *Client) runReceiver() error {
	buf := make([]byte, recvBufSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return err
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			log.Printf("WARNING echo client %s: decode: %v", c.PeerID, err)
			continue
		}

		c.publish(model.SampleEvent{
			PeerID:     c.PeerID,
			ProbeID:    pkt.ID,
			Type:       model.SampleResp,
			ObservedAt: time.Now(),
		})
	}
}
