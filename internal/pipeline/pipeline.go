// Package pipeline wires the device, DSP, codec, and transport packages
// into the capture/send and receive/playback paths described by the voice
// engine's data-flow contract, and owns the runtime tuning operations
// (echo canceller step size, noise suppressor level, processing reset,
// stats reporting) exposed to the CLI.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abkarada/nova-voice-engine/internal/adapt"
	"github.com/abkarada/nova-voice-engine/internal/aec"
	"github.com/abkarada/nova-voice-engine/internal/agc"
	"github.com/abkarada/nova-voice-engine/internal/codec"
	"github.com/abkarada/nova-voice-engine/internal/collector"
	"github.com/abkarada/nova-voice-engine/internal/config"
	"github.com/abkarada/nova-voice-engine/internal/device"
	"github.com/abkarada/nova-voice-engine/internal/fifo"
	"github.com/abkarada/nova-voice-engine/internal/noisegate"
	"github.com/abkarada/nova-voice-engine/internal/ns"
	"github.com/abkarada/nova-voice-engine/internal/slicer"
	"github.com/abkarada/nova-voice-engine/internal/transport"
	"github.com/abkarada/nova-voice-engine/internal/vad"
	"github.com/abkarada/nova-voice-engine/internal/wire"
)

// adaptInterval is how often the bitrate ladder and jitter depth are
// reevaluated against the collector's loss accounting.
const adaptInterval = 5 * time.Second

// Config collects everything needed to bring up one Pipeline: the peer
// address and the initial processing tunables.
type Config struct {
	TargetIP   string
	SendPort   int
	ListenPort int
	Tunables   config.Tunables
}

// Pipeline owns every component in the capture→send and receive→playback
// chains and the goroutines that drive the non-device-thread halves of
// each.
type Pipeline struct {
	mu sync.Mutex

	aecProc  *aec.AEC
	nsProc   *ns.Suppressor
	agcProc  *agc.AGC
	gateProc *noisegate.Gate
	vadProc  *vad.VAD

	codec     *codec.Codec
	slicer    *slicer.Slicer
	collector *collector.Collector
	transport *transport.Transport
	playback  *fifo.FIFO

	smoothedLoss float64
	jitterDepth  atomic.Int32

	// floatScratch is the capture path's int16<->float32 conversion buffer,
	// sized once to the device's tick length and reused every call so
	// onCapture never allocates on the device thread.
	floatScratch []float32

	wg sync.WaitGroup
}

// New constructs every component but does not open the device or touch the
// network; call Run to bring the pipeline up.
func New(cfg Config) (*Pipeline, error) {
	tun := cfg.Tunables
	if tun == (config.Tunables{}) {
		tun = config.Default()
	}

	c, err := codec.New(tun.Bitrate * 1000)
	if err != nil {
		return nil, fmt.Errorf("pipeline: codec: %w", err)
	}

	t, err := transport.Dial(cfg.TargetIP, cfg.SendPort, cfg.ListenPort)
	if err != nil {
		return nil, fmt.Errorf("pipeline: transport: %w", err)
	}

	p := &Pipeline{
		aecProc:   aec.New(tun.AECTaps, tun.AECStep),
		nsProc:    ns.New(ns.DefaultFrameSize, ns.DefaultHopSize, tun.NSSuppressionDB, ns.DefaultOverSubtraction),
		agcProc:   agc.New(),
		gateProc:  noisegate.New(),
		vadProc:   vad.New(),
		codec:     c,
		slicer:    slicer.New(wire.MaxPayloadSize),
		collector: collector.New(),
		transport: t,
		playback:  fifo.New(fifo.DefaultCapacity),

		floatScratch: make([]float32, device.FrameSamples),
	}
	p.vadProc.SetThreshold(tun.VADThreshold)
	p.jitterDepth.Store(int32(tun.JitterDepth))

	return p, nil
}

// Run opens the audio device, starts the network receive loop and the
// adaptive-bitrate loop, and blocks until ctx is cancelled. On return every
// started component has been torn down in reverse start order.
func (p *Pipeline) Run(ctx context.Context) error {
	dev, err := device.Open(device.Callback{
		Render:  p.onRender,
		Capture: p.onCapture,
	})
	if err != nil {
		return fmt.Errorf("pipeline: open device: %w", err)
	}

	rxCtx, cancelRx := context.WithCancel(ctx)
	p.transport.StartReceiving(rxCtx, p.onDatagram)

	adaptCtx, cancelAdapt := context.WithCancel(ctx)
	p.wg.Add(1)
	go p.adaptLoop(adaptCtx)

	if err := dev.Start(); err != nil {
		cancelRx()
		cancelAdapt()
		p.wg.Wait()
		return fmt.Errorf("pipeline: start device: %w", err)
	}

	<-ctx.Done()

	var stopErr error
	if err := dev.Stop(); err != nil {
		stopErr = err
	}
	cancelRx()
	cancelAdapt()
	p.wg.Wait()
	if err := p.transport.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// onRender fills out with up to FrameSamples queued playback samples
// (zero-filling any deficit), then feeds the exact buffer to the echo
// canceller as the far-end reference. Called from the device thread,
// render phase, before onCapture in the same tick.
func (p *Pipeline) onRender(out []int16) {
	n := p.playback.Pop(out)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	p.aecProc.OnPlayback(out)
}

// onCapture runs the capture-side chain: AEC, NS, AGC, noise gate, VAD gate,
// Opus encode, fragment, send. Called from the device thread, capture
// phase, immediately after onRender in the same tick.
func (p *Pipeline) onCapture(in []int16) {
	p.aecProc.Process(in)
	p.nsProc.Process(in)

	frame := p.floatScratch[:len(in)]
	int16ToFloat32(in, frame)
	p.agcProc.Process(frame)
	p.gateProc.Process(frame)

	if !p.vadProc.ShouldSend(vad.RMS(frame)) {
		return
	}
	float32ToInt16(frame, in)

	encoded, err := p.codec.Encode(in)
	if err != nil {
		log.Printf("[pipeline] encode: %v", err)
		return
	}
	if len(encoded) == 0 {
		return // DTX: codec judged this frame silence
	}

	for _, d := range p.slicer.Slice(encoded) {
		if err := p.transport.Send(wire.Marshal(d)); err != nil {
			log.Printf("[pipeline] send: %v", err)
		}
	}
}

// onDatagram runs the receive-side chain: reassemble, decode, enqueue for
// playback. Called from the transport's receive goroutine, never from the
// device thread.
func (p *Pipeline) onDatagram(data []byte) {
	p.collector.Collect(data, func(encoded []byte) {
		pcm, err := p.codec.Decode(encoded)
		if err != nil {
			log.Printf("[pipeline] decode: %v", err)
			return
		}
		p.playback.Push(pcm)
	})
}

// adaptLoop periodically retunes the Opus bitrate and logs the current
// jitter-depth target from the collector's loss accounting, since this
// point-to-point link carries no independent RTT measurement.
func (p *Pipeline) adaptLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(adaptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.collector.Stats()
			total := stats.FramesEmitted + stats.FramesDropped
			var loss float64
			if total > 0 {
				loss = float64(stats.FramesDropped) / float64(total)
			}
			p.mu.Lock()
			p.smoothedLoss = adapt.SmoothLoss(p.smoothedLoss, loss, 0.3)
			smoothed := p.smoothedLoss
			p.mu.Unlock()

			current := p.codec.CurrentBitrateKbps()
			next := adapt.NextBitrate(current, smoothed)
			if next != current {
				log.Printf("[pipeline] bitrate %d -> %d kbps (loss=%.1f%%)", current, next, smoothed*100)
				if err := p.codec.SetBitrate(next * 1000); err != nil {
					log.Printf("[pipeline] set bitrate: %v", err)
				}
			}
			p.jitterDepth.Store(int32(adapt.TargetJitterDepth(0, smoothed)))
		}
	}
}

// SetAECStep retunes the echo canceller's NLMS step size at runtime.
func (p *Pipeline) SetAECStep(step float64) {
	p.aecProc.SetStep(step)
}

// SetNSSuppressionDB retunes the noise suppressor's spectral floor.
func (p *Pipeline) SetNSSuppressionDB(db float64) {
	p.nsProc.SetSuppressionDB(db)
}

// ResetProcessing clears the AEC and NS adaptive state, useful after a long
// silence or an audible artifact without restarting the whole pipeline.
func (p *Pipeline) ResetProcessing() {
	p.aecProc.Reset()
	p.nsProc.Reset()
}

// Stats is a snapshot of the pipeline's operational counters, the runtime
// analogue of the reference implementation's print_audio_stats.
type Stats struct {
	FramesEmitted  int64
	FramesDropped  int64
	BytesSent      uint64
	BytesRecv      uint64
	CurrentBitrate int
	JitterDepth    int
}

// Stats returns a snapshot of the pipeline's current counters.
func (p *Pipeline) Stats() Stats {
	cs := p.collector.Stats()
	sent, recv := p.transport.Stats()
	return Stats{
		FramesEmitted:  cs.FramesEmitted,
		FramesDropped:  cs.FramesDropped,
		BytesSent:      sent,
		BytesRecv:      recv,
		CurrentBitrate: p.codec.CurrentBitrateKbps(),
		JitterDepth:    int(p.jitterDepth.Load()),
	}
}

// int16ToFloat32 writes in's samples, normalised to float32, into out. out
// must be at least len(in) long; this never allocates.
func int16ToFloat32(in []int16, out []float32) {
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
}

// float32ToInt16 writes frame back into out, clamped to the int16 range,
// undoing int16ToFloat32 before Opus encoding.
func float32ToInt16(frame []float32, out []int16) {
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
}
