package wire

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	d := Datagram{
		FrameID:       42,
		FragmentIndex: 1,
		FragmentCount: 3,
		Payload:       []byte("hello fragment"),
	}

	buf := Marshal(d)
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.FrameID != d.FrameID || got.FragmentIndex != d.FragmentIndex || got.FragmentCount != d.FragmentCount {
		t.Errorf("header mismatch: got %+v, want %+v", got, d)
	}
	if !bytes.Equal(got.Payload, d.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.Payload, d.Payload)
	}
}

func TestMarshalSizeBound(t *testing.T) {
	d := Datagram{FrameID: 1, FragmentIndex: 0, FragmentCount: 1, Payload: make([]byte, MaxPayloadSize)}
	buf := Marshal(d)
	if len(buf) > MaxDatagramSize {
		t.Errorf("marshaled size %d exceeds MaxDatagramSize %d", len(buf), MaxDatagramSize)
	}
}

func TestUnmarshalRejectsShortHeader(t *testing.T) {
	if _, err := Unmarshal(make([]byte, HeaderSize-1)); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	d := Datagram{FrameID: 1, FragmentIndex: 0, FragmentCount: 1, Payload: []byte("abc")}
	buf := Marshal(d)
	buf = append(buf, 0xFF) // trailing garbage byte not reflected in payload_len

	if _, err := Unmarshal(buf); err == nil {
		t.Error("expected error for payload_len mismatch")
	}
}

func TestUnmarshalRejectsZeroFragmentCount(t *testing.T) {
	buf := Marshal(Datagram{FrameID: 1, FragmentIndex: 0, FragmentCount: 1, Payload: []byte("x")})
	buf[6], buf[7] = 0, 0 // force fragment_count to 0

	if _, err := Unmarshal(buf); err == nil {
		t.Error("expected error for fragment_count == 0")
	}
}

func TestUnmarshalRejectsIndexOutOfRange(t *testing.T) {
	buf := Marshal(Datagram{FrameID: 1, FragmentIndex: 0, FragmentCount: 2, Payload: []byte("x")})
	buf[4], buf[5] = 0, 2 // force fragment_index to 2, >= fragment_count of 2

	if _, err := Unmarshal(buf); err == nil {
		t.Error("expected error for fragment_index >= fragment_count")
	}
}
