// Package device wraps a single full-duplex PortAudio stream, invoking one
// render callback followed by one capture callback per audio tick so the
// echo canceller always sees the exact samples that were just handed to the
// loudspeaker.
package device

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate is the device's fixed operating rate.
	SampleRate = 48000

	// Channels is fixed at mono.
	Channels = 1

	// FrameSamples is the device's native tick size: 10 ms at SampleRate.
	FrameSamples = SampleRate / 100
)

// Callback bundles the two halves of one device tick. Render is invoked
// first with the output buffer to fill for the loudspeaker; Capture is
// invoked second with the buffer the microphone just produced. Both are
// called from the audio driver's own thread and must return promptly —
// no blocking I/O, no unbounded work, no allocation in the steady state.
type Callback struct {
	Render  func(out []int16)
	Capture func(in []int16)
}

// Device is one open full-duplex PortAudio stream.
type Device struct {
	stream *portaudio.Stream
	cb     Callback
}

// Open opens the default input and output devices at SampleRate/Channels
// with FrameSamples-sized buffers, wiring cb as the combined render+capture
// callback. The stream is opened but not yet started; call Start.
func Open(cb Callback) (*Device, error) {
	d := &Device{cb: cb}

	params, err := portaudio.DefaultStreamParameters(Channels, Channels, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("device: default stream parameters: %w", err)
	}
	params.FramesPerBuffer = FrameSamples

	stream, err := portaudio.OpenStream(params, d.process)
	if err != nil {
		return nil, fmt.Errorf("device: open stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

// process is invoked by PortAudio once per tick. Per the ordering contract,
// it renders before it captures: AEC.on_playback must see out before
// AEC.process runs against the next in.
func (d *Device) process(in, out []int16) {
	if d.cb.Render != nil {
		d.cb.Render(out)
	}
	if d.cb.Capture != nil {
		d.cb.Capture(in)
	}
}

// Start begins the audio stream. The callback fires on the driver's thread
// from this point until Stop.
func (d *Device) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("device: start: %w", err)
	}
	return nil
}

// Stop halts the stream, draining any in-flight callback invocation before
// it returns, then closes the underlying stream. Stop is idempotent.
func (d *Device) Stop() error {
	if d.stream == nil {
		return nil
	}
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("device: stop: %w", err)
	}
	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("device: close: %w", err)
	}
	d.stream = nil
	return nil
}

// Init must be called once before any Device is opened, and Terminate once
// after the last Device is closed, per PortAudio's library lifecycle.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("device: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("device: terminate: %w", err)
	}
	return nil
}
