// Package slicer fragments an encoded Opus frame into one or more
// wire.Datagrams no larger than the configured MTU.
package slicer

import (
	"sync"

	"github.com/abkarada/nova-voice-engine/internal/wire"
)

// Slicer assigns a monotonically increasing, wrapping frame_id to every
// call to Slice.
type Slicer struct {
	mu      sync.Mutex
	nextID  uint32
	payload int
}

// New creates a Slicer that caps each fragment's payload at maxPayload
// bytes. maxPayload <= 0 or > wire.MaxPayloadSize uses wire.MaxPayloadSize.
func New(maxPayload int) *Slicer {
	if maxPayload <= 0 || maxPayload > wire.MaxPayloadSize {
		maxPayload = wire.MaxPayloadSize
	}
	return &Slicer{payload: maxPayload}
}

// Slice partitions encoded into ceil(len/maxPayload) fragments, each
// carrying the next frame_id. For encoded shorter than the payload cap it
// returns exactly one datagram. Concatenating the returned datagrams'
// payloads in index order reproduces encoded exactly.
func (s *Slicer) Slice(encoded []byte) []wire.Datagram {
	if len(encoded) == 0 {
		return nil
	}

	count := (len(encoded) + s.payload - 1) / s.payload

	s.mu.Lock()
	frameID := s.nextID
	s.nextID++
	s.mu.Unlock()

	datagrams := make([]wire.Datagram, count)
	for i := 0; i < count; i++ {
		start := i * s.payload
		end := min(start+s.payload, len(encoded))
		datagrams[i] = wire.Datagram{
			FrameID:       frameID,
			FragmentIndex: uint16(i),
			FragmentCount: uint16(count),
			Payload:       encoded[start:end],
		}
	}
	return datagrams
}
