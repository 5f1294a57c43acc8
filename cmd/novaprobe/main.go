// Command novaprobe is a standalone diagnostic for the UDP link novaengine
// runs over. It exercises the same wire/slicer/collector/transport path as
// the voice pipeline with synthetic text payloads in place of Opus frames,
// so a connectivity or fragmentation problem can be isolated without a
// microphone or a peer running the full engine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abkarada/nova-voice-engine/internal/collector"
	"github.com/abkarada/nova-voice-engine/internal/slicer"
	"github.com/abkarada/nova-voice-engine/internal/transport"
	"github.com/abkarada/nova-voice-engine/internal/wire"
)

const (
	exitOK       = 0
	exitArgError = 1
	exitRuntime  = 2
)

// probeMessages mirrors the reference network tester's fixed set of test
// strings, padded out across multiple fragments for a couple of entries so
// a single run exercises both the single-fragment and multi-fragment path
// through the slicer and collector.
var probeMessages = []string{
	"NOVAENGINE_PROBE_001",
	"VOICE_ENGINE_READY",
	"AUDIO_PATH_CHECK",
	"CONNECTION_VERIFIED",
	"UDP_TUNNEL_CHECK",
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s send <target_ip> <target_port> <local_listen_port>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s listen <listen_port>\n", os.Args[0])
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitArgError
	}

	switch args[0] {
	case "send":
		if len(args) != 4 {
			usage()
			return exitArgError
		}
		targetIP := args[1]
		if targetIP == "localhost" {
			targetIP = "127.0.0.1"
		}
		sendPort, err := strconv.Atoi(args[2])
		if err != nil {
			log.Printf("novaprobe: invalid target_port %q: %v", args[2], err)
			return exitArgError
		}
		listenPort, err := strconv.Atoi(args[3])
		if err != nil {
			log.Printf("novaprobe: invalid local_listen_port %q: %v", args[3], err)
			return exitArgError
		}
		if err := sendProbe(targetIP, sendPort, listenPort); err != nil {
			log.Printf("novaprobe: %v", err)
			return exitRuntime
		}
		return exitOK

	case "listen":
		if len(args) != 2 {
			usage()
			return exitArgError
		}
		listenPort, err := strconv.Atoi(args[1])
		if err != nil {
			log.Printf("novaprobe: invalid listen_port %q: %v", args[1], err)
			return exitArgError
		}
		if err := listenProbe(listenPort); err != nil {
			log.Printf("novaprobe: %v", err)
			return exitRuntime
		}
		return exitOK

	default:
		usage()
		return exitArgError
	}
}

// sendProbe slices each probe message through the same Slicer the voice
// pipeline uses for Opus frames and sends every resulting datagram, logging
// one line per message and a final success count.
func sendProbe(targetIP string, sendPort, listenPort int) error {
	t, err := transport.Dial(targetIP, sendPort, listenPort)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer t.Close()

	// A payload cap small enough to force the longer probe strings across
	// more than one fragment, exercising reassembly on the listen side.
	s := slicer.New(16)

	log.Printf("novaprobe: sending %d probes to %s:%d (listening on %d)", len(probeMessages), targetIP, sendPort, listenPort)
	start := time.Now()
	success := 0
	for i, msg := range probeMessages {
		full := fmt.Sprintf("%s_%d", msg, time.Since(start).Milliseconds())
		datagrams := s.Slice([]byte(full))
		ok := true
		for _, d := range datagrams {
			if err := t.Send(wire.Marshal(d)); err != nil {
				log.Printf("  [%d/%d] %s: send failed: %v", i+1, len(probeMessages), msg, err)
				ok = false
			}
		}
		if ok {
			log.Printf("  [%d/%d] %s: sent in %d fragment(s)", i+1, len(probeMessages), msg, len(datagrams))
			success++
		}
		time.Sleep(300 * time.Millisecond)
	}

	log.Printf("novaprobe: %d/%d probes sent successfully", success, len(probeMessages))
	if success < len(probeMessages) {
		return fmt.Errorf("%d probe(s) failed to send", len(probeMessages)-success)
	}
	return nil
}

// listenProbe binds the local listen port and reassembles whatever arrives
// through the same Collector the voice pipeline uses, printing each
// completed message until interrupted.
func listenProbe(listenPort int) error {
	// dial a throwaway send socket toward ourselves; only the receive side
	// is used, but Transport always owns both.
	t, err := transport.Dial("127.0.0.1", listenPort, listenPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer t.Close()

	c := collector.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var count int
	start := time.Now()
	t.StartReceiving(ctx, func(data []byte) {
		c.Collect(data, func(msg []byte) {
			count++
			log.Printf("#%d [+%dms]: %q", count, time.Since(start).Milliseconds(), string(msg))
		})
	})

	log.Printf("novaprobe: listening on port %d, press Ctrl+C to stop", listenPort)
	<-ctx.Done()

	stats := c.Stats()
	log.Printf("novaprobe: session summary: %d messages received, %d fragments dropped", count, stats.FramesDropped)
	return nil
}
