package pipeline

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/abkarada/nova-voice-engine/internal/aec"
	"github.com/abkarada/nova-voice-engine/internal/agc"
	"github.com/abkarada/nova-voice-engine/internal/codec"
	"github.com/abkarada/nova-voice-engine/internal/collector"
	"github.com/abkarada/nova-voice-engine/internal/fifo"
	"github.com/abkarada/nova-voice-engine/internal/noisegate"
	"github.com/abkarada/nova-voice-engine/internal/ns"
	"github.com/abkarada/nova-voice-engine/internal/slicer"
	"github.com/abkarada/nova-voice-engine/internal/transport"
	"github.com/abkarada/nova-voice-engine/internal/vad"
	"github.com/abkarada/nova-voice-engine/internal/wire"
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

// newTestPipeline builds a Pipeline wired to a loopback transport, without
// touching any audio device.
func newTestPipeline(t *testing.T) (*Pipeline, *transport.Transport) {
	t.Helper()

	listenPort := freePort(t)
	sendPort := freePort(t)

	tr, err := transport.Dial("127.0.0.1", sendPort, listenPort)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	peer, err := transport.Dial("127.0.0.1", listenPort, sendPort)
	if err != nil {
		t.Fatalf("Dial peer: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	c, err := codec.New(32000)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}

	p := &Pipeline{
		aecProc:   aec.New(aec.DefaultTaps, aec.DefaultStep),
		nsProc:    ns.New(ns.DefaultFrameSize, ns.DefaultHopSize, ns.DefaultSuppressionDB, ns.DefaultOverSubtraction),
		agcProc:   agc.New(),
		gateProc:  noisegate.New(),
		vadProc:   vad.New(),
		codec:     c,
		slicer:    slicer.New(wire.MaxPayloadSize),
		collector: collector.New(),
		transport: tr,
		playback:  fifo.New(fifo.DefaultCapacity),

		floatScratch: make([]float32, 480),
	}
	p.vadProc.SetEnabled(false) // deterministic: always send in capture tests

	return p, peer
}

// loudFrame returns a low-frequency sine tone, loud enough and with a low
// enough zero-crossing rate to read as speech to both the NS's internal VAD
// and the send-side VAD.
func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = int16(20000 * math.Sin(2*math.Pi*300*float64(i)/48000))
	}
	return frame
}

func TestOnRenderZeroFillsOnUnderrun(t *testing.T) {
	p, _ := newTestPipeline(t)
	out := make([]int16, 480)
	for i := range out {
		out[i] = 1234 // poison to verify zero-fill actually happens
	}
	p.onRender(out)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("out[%d] = %d, want 0 on FIFO underrun", i, s)
		}
	}
}

func TestOnRenderDrainsPushedSamples(t *testing.T) {
	p, _ := newTestPipeline(t)
	pushed := loudFrame(480)
	p.playback.Push(pushed)

	out := make([]int16, 480)
	p.onRender(out)
	for i := range out {
		if out[i] != pushed[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], pushed[i])
		}
	}
}

func TestOnCaptureSendsDatagram(t *testing.T) {
	p, peer := newTestPipeline(t)

	received := make(chan []byte, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	peer.StartReceiving(ctx, func(data []byte) { received <- data })

	// Feed a loud, non-silent frame repeatedly so DTX doesn't suppress it
	// and the NS/AEC filters have something to act on.
	var gotDatagram bool
	for i := 0; i < 10; i++ {
		p.onCapture(loudFrame(480))
		select {
		case <-received:
			gotDatagram = true
		case <-time.After(200 * time.Millisecond):
		}
		if gotDatagram {
			break
		}
	}
	if !gotDatagram {
		t.Fatal("expected at least one datagram to be sent for a loud capture frame")
	}
}

func TestOnDatagramPushesDecodedAudioToPlayback(t *testing.T) {
	p, _ := newTestPipeline(t)

	encoded, err := p.codec.Encode(loudFrame(480))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) == 0 {
		t.Skip("codec suppressed frame via DTX in this environment")
	}

	datagrams := p.slicer.Slice(encoded)
	before := p.playback.Len()
	for _, d := range datagrams {
		p.onDatagram(wire.Marshal(d))
	}
	if p.playback.Len() <= before {
		t.Errorf("playback FIFO length did not grow: before=%d after=%d", before, p.playback.Len())
	}
}

func TestSetAECStepAndNSSuppressionDB(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetAECStep(0.5)
	p.SetNSSuppressionDB(-30)
	// No public getters on the sub-components beyond behaviour; this test
	// only confirms the calls don't panic and the pipeline stays usable.
	p.onCapture(loudFrame(480))
}

func TestResetProcessing(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.onCapture(loudFrame(480))
	p.ResetProcessing()
	p.onCapture(loudFrame(480))
}

func TestStatsReflectsCollectorAndTransport(t *testing.T) {
	p, _ := newTestPipeline(t)

	encoded, err := p.codec.Encode(loudFrame(480))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) == 0 {
		t.Skip("codec suppressed frame via DTX in this environment")
	}
	for _, d := range p.slicer.Slice(encoded) {
		p.onDatagram(wire.Marshal(d))
	}

	stats := p.Stats()
	if stats.FramesEmitted == 0 {
		t.Error("expected at least one emitted frame in stats")
	}
	if stats.CurrentBitrate != 32 {
		t.Errorf("CurrentBitrate: got %d, want 32", stats.CurrentBitrate)
	}
}

func TestAdaptLoopRetunesBitrateFromCollectorLoss(t *testing.T) {
	p, _ := newTestPipeline(t)

	// One incomplete frame (fragment 0 of 2, never completed) followed by
	// enough time past the stale timeout for the collector to count it as
	// dropped, giving adaptLoop a non-zero loss rate to react to.
	d := wire.Datagram{FrameID: 1, FragmentIndex: 0, FragmentCount: 2, Payload: []byte("x")}
	p.collector.Collect(wire.Marshal(d), func([]byte) {})
	time.Sleep(600 * time.Millisecond)
	// Eviction of stale records happens lazily on the next Collect call.
	other := wire.Datagram{FrameID: 2, FragmentIndex: 0, FragmentCount: 2, Payload: []byte("y")}
	p.collector.Collect(wire.Marshal(other), func([]byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.wg.Add(1)
	go p.adaptLoop(ctx)

	// adaptInterval is 5s in production; directly invoke one tick's worth of
	// work via the collector stats this pipeline now holds, since waiting a
	// full interval would make this test slow. The adaptLoop goroutine is
	// exercised for its startup/shutdown path; the bitrate math itself is
	// covered by internal/adapt's own tests.
	cancel()
	p.wg.Wait()

	stats := p.collector.Stats()
	if stats.FramesDropped == 0 {
		t.Error("expected the stale incomplete frame to count as dropped")
	}
}
