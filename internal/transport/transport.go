// Package transport sends and receives datagrams over a single point-to-
// point UDP socket pair, one for sending to the peer's listen port, one for
// receiving on the local listen port.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Transport owns the send socket (connected to the peer) and the receive
// socket (bound to the local listen port). UDP's "connect" only records the
// destination address locally; nothing is actually negotiated over the
// wire, matching the reference implementation's own use of connect() as a
// convenience wrapper around sendto.
type Transport struct {
	sendConn *net.UDPConn
	recvConn *net.UDPConn

	mu         sync.Mutex
	recvCancel context.CancelFunc

	bytesSent uint64
	bytesRecv uint64
}

// Dial opens the send socket toward targetIP:sendPort and the receive
// socket bound to 0.0.0.0:listenPort.
func Dial(targetIP string, sendPort, listenPort int) (*Transport, error) {
	sendAddr := &net.UDPAddr{IP: net.ParseIP(targetIP), Port: sendPort}
	if sendAddr.IP == nil {
		return nil, fmt.Errorf("transport: invalid target IP %q", targetIP)
	}

	sendConn, err := net.DialUDP("udp", nil, sendAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial send socket: %w", err)
	}

	recvConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: listenPort})
	if err != nil {
		sendConn.Close()
		return nil, fmt.Errorf("transport: listen on port %d: %w", listenPort, err)
	}

	return &Transport{sendConn: sendConn, recvConn: recvConn}, nil
}

// Send writes one datagram to the peer. Errors are returned rather than
// logged; the caller decides whether a single dropped send is worth
// surfacing.
func (t *Transport) Send(datagram []byte) error {
	n, err := t.sendConn.Write(datagram)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	t.mu.Lock()
	t.bytesSent += uint64(n)
	t.mu.Unlock()
	return nil
}

// StartReceiving spawns a goroutine that reads datagrams off the receive
// socket and invokes onDatagram for each. Calling StartReceiving again
// cancels the previous reader before starting a new one, so at most one
// goroutine ever reads the socket. The goroutine exits when ctx is
// cancelled or the socket is closed by Close.
func (t *Transport) StartReceiving(ctx context.Context, onDatagram func(data []byte)) {
	t.mu.Lock()
	if t.recvCancel != nil {
		t.recvCancel()
	}
	rctx, cancel := context.WithCancel(ctx)
	t.recvCancel = cancel
	t.mu.Unlock()

	go func() {
		defer cancel()
		buf := make([]byte, 2048)
		for {
			if rctx.Err() != nil {
				return
			}
			n, err := t.recvConn.Read(buf)
			if err != nil {
				return
			}
			t.mu.Lock()
			t.bytesRecv += uint64(n)
			t.mu.Unlock()

			data := make([]byte, n)
			copy(data, buf[:n])
			onDatagram(data)
		}
	}()
}

// Stats returns cumulative byte counters since Dial.
func (t *Transport) Stats() (bytesSent, bytesRecv uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesSent, t.bytesRecv
}

// Close stops any active receive goroutine and closes both sockets.
// Closing recvConn causes its blocking Read to return an error, which is
// how the receive goroutine observes shutdown.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.recvCancel != nil {
		t.recvCancel()
	}
	t.mu.Unlock()

	var firstErr error
	if err := t.sendConn.Close(); err != nil {
		firstErr = err
	}
	if err := t.recvConn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("transport: close: %w", firstErr)
	}
	return nil
}
