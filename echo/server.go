// Package echo implements the UDP probe reflector (Server) and the paired
// sender/receiver that drives one outbound check (Client).
package echo

import (
	"errors"
	"log"
	"net"

	"github.com/easybill/mehsh/wire"
)

// Port is the fixed UDP port the echo server listens on and every client
// dials.
const Port = 4232

// recvBufSize is generous relative to wire.Size (18 bytes) to tolerate
// any trailing garbage on the datagram without truncating the packet.
const recvBufSize = 100

// Server reflects every well-formed probe back to its origin address,
// unchanged save for its type. It never terminates on its own: an I/O or
// decode error on one datagram is logged and the receive loop continues.
type Server struct {
	conn *net.UDPConn
}

// Listen binds the server socket on 0.0.0.0:<Port>.
func Listen() (*Server, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn}, nil
}

// Close releases the underlying socket, unblocking Run.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run services datagrams until the socket is closed, at which point it
// returns nil; other receive errors are logged and do not end it. This is the value the
// supervisor blocks on per the supervisor's component contract.
func (s *Server) Run() error {
	buf := make([]byte, recvBufSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("WARNING echo server: recv: %v", err)
			continue
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			log.Printf("WARNING echo server: decode: %v", err)
			continue
		}

		resp := wire.Encode(pkt.Version, pkt.ID, wire.Resp)
		if err := sendAll(s.conn, resp, from); err != nil {
			log.Printf("WARNING echo server: send: %v", err)
		}
	}
}

// sendAll keeps calling WriteToUDP until every byte of buf is away.
func sendAll(conn *net.UDPConn, buf []byte, to *net.UDPAddr) error {
	for sent := 0; sent < len(buf); {
		n, err := conn.WriteToUDP(buf[sent:], to)
		if err != nil {
			return err
		}
		sent += n
	}
	return nil
}
