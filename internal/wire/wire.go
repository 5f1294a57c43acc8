// Package wire defines the on-the-wire datagram header shared by the
// slicer and collector: a fixed 10-byte big-endian header followed by the
// fragment payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed header length in bytes: frame_id(4) +
	// fragment_index(2) + fragment_count(2) + payload_len(2).
	HeaderSize = 10

	// MaxDatagramSize is the hard ceiling on a single datagram, chosen to
	// stay clear of common path MTUs after UDP/IP overhead.
	MaxDatagramSize = 1200

	// MaxPayloadSize leaves HeaderSize of room inside MaxDatagramSize.
	MaxPayloadSize = MaxDatagramSize - HeaderSize
)

// Datagram is one fragment of an encoded frame, ready to marshal onto the
// wire or just unmarshaled from it.
type Datagram struct {
	FrameID       uint32
	FragmentIndex uint16
	FragmentCount uint16
	Payload       []byte
}

// Marshal encodes d into a freshly allocated byte slice: header followed by
// payload.
func Marshal(d Datagram) []byte {
	buf := make([]byte, HeaderSize+len(d.Payload))
	binary.BigEndian.PutUint32(buf[0:4], d.FrameID)
	binary.BigEndian.PutUint16(buf[4:6], d.FragmentIndex)
	binary.BigEndian.PutUint16(buf[6:8], d.FragmentCount)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(d.Payload)))
	copy(buf[HeaderSize:], d.Payload)
	return buf
}

// Unmarshal parses a received datagram. The returned Payload aliases data;
// callers that retain it past the lifetime of the receive buffer must copy.
// Unmarshal rejects malformed datagrams: truncated header, a payload_len
// that doesn't match the actual remaining bytes, fragment_count == 0, or
// fragment_index >= fragment_count.
func Unmarshal(data []byte) (Datagram, error) {
	if len(data) < HeaderSize {
		return Datagram{}, fmt.Errorf("wire: datagram too short: %d bytes", len(data))
	}

	d := Datagram{
		FrameID:       binary.BigEndian.Uint32(data[0:4]),
		FragmentIndex: binary.BigEndian.Uint16(data[4:6]),
		FragmentCount: binary.BigEndian.Uint16(data[6:8]),
	}
	payloadLen := binary.BigEndian.Uint16(data[8:10])

	if int(payloadLen) != len(data)-HeaderSize {
		return Datagram{}, fmt.Errorf("wire: payload_len %d does not match remaining %d bytes", payloadLen, len(data)-HeaderSize)
	}
	if d.FragmentCount == 0 {
		return Datagram{}, fmt.Errorf("wire: fragment_count is 0")
	}
	if d.FragmentIndex >= d.FragmentCount {
		return Datagram{}, fmt.Errorf("wire: fragment_index %d >= fragment_count %d", d.FragmentIndex, d.FragmentCount)
	}

	d.Payload = data[HeaderSize:]
	return d, nil
}
