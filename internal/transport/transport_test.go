package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port
}

func TestSendReceiveRoundTrip(t *testing.T) {
	listenPort := freePort(t)
	sendPort := freePort(t)

	receiver, err := Dial("127.0.0.1", sendPort, listenPort)
	if err != nil {
		t.Fatalf("Dial receiver: %v", err)
	}
	defer receiver.Close()

	sender, err := Dial("127.0.0.1", listenPort, sendPort)
	if err != nil {
		t.Fatalf("Dial sender: %v", err)
	}
	defer sender.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	receiver.StartReceiving(ctx, func(data []byte) { received <- data })

	want := []byte("hello over udp")
	if err := sender.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(want) {
			t.Errorf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestDialRejectsInvalidIP(t *testing.T) {
	_, err := Dial("not-an-ip", freePort(t), freePort(t))
	if err == nil {
		t.Error("expected error for invalid target IP")
	}
}

func TestStatsTrackBytes(t *testing.T) {
	listenPort := freePort(t)
	sendPort := freePort(t)

	receiver, err := Dial("127.0.0.1", sendPort, listenPort)
	if err != nil {
		t.Fatalf("Dial receiver: %v", err)
	}
	defer receiver.Close()

	sender, err := Dial("127.0.0.1", listenPort, sendPort)
	if err != nil {
		t.Fatalf("Dial sender: %v", err)
	}
	defer sender.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	receiver.StartReceiving(ctx, func(data []byte) { close(done) })

	payload := []byte("x")
	if err := sender.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	sent, _ := sender.Stats()
	if sent != uint64(len(payload)) {
		t.Errorf("bytesSent = %d, want %d", sent, len(payload))
	}

	_, recv := receiver.Stats()
	if recv != uint64(len(payload)) {
		t.Errorf("bytesRecv = %d, want %d", recv, len(payload))
	}
}

func TestCloseStopsReceiveGoroutine(t *testing.T) {
	listenPort := freePort(t)
	receiver, err := Dial("127.0.0.1", freePort(t), listenPort)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	receiver.StartReceiving(context.Background(), func(data []byte) {})

	if err := receiver.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
