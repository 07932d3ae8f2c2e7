package echo

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/easybill/mehsh/model"
	"github.com/easybill/mehsh/wire"
)

func TestServerReflectsProbe(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{conn: conn}
	go srv.Run()
	defer srv.Close()

	clientConn, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	req := wire.Encode(1, 42, wire.Req)
	if _, err := clientConn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 100)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	pkt, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Type != wire.Resp || pkt.ID != 42 {
		t.Fatalf("got %+v, want Resp id=42", pkt)
	}
}

func TestServerIgnoresGarbageAndKeepsServing(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{conn: conn}
	go srv.Run()
	defer srv.Close()

	clientConn, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	// Garbage datagram: too short to be a valid packet.
	if _, err := clientConn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	// A valid probe afterwards must still be served.
	req := wire.Encode(1, 7, wire.Req)
	if _, err := clientConn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 100)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pkt, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.ID != 7 {
		t.Fatalf("got id %d, want 7", pkt.ID)
	}
}

func TestClientPublishesReqBeforeSendAndRespOnReceive(t *testing.T) {
	srvAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	srvConn, err := net.ListenUDP("udp4", srvAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{conn: srvConn}
	go srv.Run()
	defer srv.Close()

	events := make(chan model.SampleEvent, 100)
	client, err := NewClientAddr("peer1", srvConn.LocalAddr().(*net.UDPAddr), func(ev model.SampleEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go client.Run(ctx)
	defer client.Close()

	sawReq, sawResp := false, false
	deadline := time.After(1 * time.Second)
	for !(sawReq && sawResp) {
		select {
		case ev := <-events:
			if ev.Type == model.SampleReq {
				sawReq = true
			}
			if ev.Type == model.SampleResp {
				sawResp = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for req=%v resp=%v", sawReq, sawResp)
		}
	}
}
