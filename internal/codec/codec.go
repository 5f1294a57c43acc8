// Package codec wraps the Opus encoder/decoder for 10 ms mono voice frames,
// configured for the VoIP application profile with DTX and in-band FEC.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the only rate this codec is configured for; Opus
	// requires one of 8/12/16/24/48 kHz and the rest of the pipeline is
	// built around 48 kHz capture/playback.
	SampleRate = 48000

	// Channels is fixed at mono; the pipeline never carries stereo.
	Channels = 1

	// FrameSamples is the 10 ms frame length at SampleRate, matching the
	// device's native buffer size.
	FrameSamples = SampleRate / 100

	// DefaultBitrate is the initial Opus target bitrate in bits/s, the
	// midpoint of the adaptive ladder.
	DefaultBitrate = 32000

	// maxPacketBytes bounds a single encoded frame; Opus packets for voice
	// at these bitrates never approach this, but it keeps the output
	// buffer allocation fixed and matches the reference implementation's
	// safety margin.
	maxPacketBytes = 4000
)

// Codec holds one Opus encoder and one Opus decoder for a single stream.
// Encode and Decode are not safe for concurrent use with each other's
// method on the same instance from multiple goroutines without external
// synchronization; the pipeline calls Encode only from the capture
// goroutine and Decode only from the network receive goroutine, so no
// internal lock is needed.
type Codec struct {
	enc *opus.Encoder
	dec *opus.Decoder

	currentKbps int

	// Scratch buffers allocated once and reused across calls so Encode and
	// Decode never allocate on the device/network hot path. Encode's pair
	// is only ever touched from the capture goroutine; Decode's and
	// DecodeFEC's only from the network receive goroutine, so no lock is
	// needed between them, but a caller must finish using one call's
	// returned slice before making the next call on the same method.
	encodeIn  []int16
	encodeOut []byte
	decodeOut []int16
	fecOut    []int16
}

// New creates a Codec with the VoIP application profile, DTX, and in-band
// FEC enabled, and the encoder's bitrate set to bitrate bits/s (0 uses
// DefaultBitrate).
func New(bitrate int) (*Codec, error) {
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: create encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	if err := enc.SetComplexity(5); err != nil {
		return nil, fmt.Errorf("codec: set complexity: %w", err)
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, fmt.Errorf("codec: set dtx: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("codec: set fec: %w", err)
	}

	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create decoder: %w", err)
	}

	return &Codec{
		enc:         enc,
		dec:         dec,
		currentKbps: bitrate / 1000,
		encodeIn:    make([]int16, FrameSamples),
		encodeOut:   make([]byte, maxPacketBytes),
		decodeOut:   make([]int16, FrameSamples),
		fecOut:      make([]int16, FrameSamples),
	}, nil
}

// SetBitrate retunes the encoder's target bitrate (bits/s) at runtime, used
// by the adaptive bitrate ladder. It also updates the value CurrentBitrateKbps
// reports.
func (c *Codec) SetBitrate(bitrate int) error {
	if err := c.enc.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("codec: set bitrate: %w", err)
	}
	c.currentKbps = bitrate / 1000
	return nil
}

// CurrentBitrateKbps returns the encoder's current target bitrate in kbps.
func (c *Codec) CurrentBitrateKbps() int {
	return c.currentKbps
}

// Encode compresses exactly one FrameSamples-length PCM frame. A frame
// shorter than FrameSamples is zero-padded; a longer one is truncated,
// matching the reference codec's pad-or-trim contract so callers never see
// a size-mismatch error for slightly irregular device buffers. The
// returned slice aliases Encode's internal scratch buffer and is only
// valid until the next call to Encode on this Codec.
//
// A zero-length return with a nil error means DTX suppressed the frame
// (silence); callers should skip sending rather than treat it as failure.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	in := c.encodeIn
	if len(pcm) == FrameSamples {
		in = pcm
	} else {
		for i := range c.encodeIn {
			c.encodeIn[i] = 0
		}
		copy(c.encodeIn, pcm)
	}

	n, err := c.enc.Encode(in, c.encodeOut)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return c.encodeOut[:n], nil
}

// Decode expands one encoded frame into FrameSamples PCM samples. Pass a
// nil or empty encoded slice to request packet-loss concealment for a
// missing frame; the decoder synthesizes a plausible continuation from its
// internal state. The returned slice aliases Decode's internal scratch
// buffer and is only valid until the next call to Decode on this Codec.
func (c *Codec) Decode(encoded []byte) ([]int16, error) {
	n, err := c.dec.Decode(encoded, c.decodeOut)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return c.decodeOut[:n], nil
}

// DecodeFEC recovers a frame that the receiver knows was lost, using the
// in-band forward-error-correction data embedded in the next received
// packet. next is the encoded frame that immediately follows the missing
// one on the wire. The returned slice aliases DecodeFEC's internal scratch
// buffer and is only valid until the next call to DecodeFEC on this Codec.
func (c *Codec) DecodeFEC(next []byte) ([]int16, error) {
	n, err := c.dec.DecodeFEC(next, c.fecOut)
	if err != nil {
		return nil, fmt.Errorf("codec: decode fec: %w", err)
	}
	return c.fecOut[:n], nil
}
