// Package collector reassembles wire.Datagrams back into complete encoded
// frames, tolerating loss and reordering on the lossy transport.
package collector

import (
	"sync"
	"time"

	"github.com/abkarada/nova-voice-engine/internal/wire"
)

const (
	// MaxInflight bounds how many partial frames the collector holds at
	// once. The oldest (by first-seen time) is evicted when this is
	// exceeded, so a burst of incomplete frames can't grow unbounded.
	MaxInflight = 64

	// StaleTimeout discards a partial frame that has sat incomplete for
	// this long, since the transport offers no retry and an old fragment
	// is no longer useful for real-time playback.
	StaleTimeout = 500 * time.Millisecond
)

// record tracks one in-flight frame_id's fragments until it completes,
// gets evicted, or goes stale.
type record struct {
	fragmentCount uint16
	fragments     map[uint16][]byte
	firstSeen     time.Time
}

// Stats summarizes the collector's loss experience since the last Reset,
// used to drive the adaptive bitrate ladder.
type Stats struct {
	FramesEmitted int64
	FramesDropped int64 // evicted incomplete: capacity eviction or staleness
}

// Collector holds in-flight reassembly records for Collect.
type Collector struct {
	mu      sync.Mutex
	records map[uint32]*record
	order   []uint32 // frame_ids in first-seen order, oldest first

	stats Stats
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{
		records: make(map[uint32]*record),
	}
}

// Collect parses one received datagram and, if its fragment completes a
// frame, invokes emit with the reassembled bytes. Malformed datagrams
// (length mismatch, index out of range, zero fragment count) are dropped
// silently; this mirrors the transport's own lossy contract.
func (c *Collector) Collect(data []byte, emit func(encoded []byte)) {
	d, err := wire.Unmarshal(data)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.evictStale()

	rec, ok := c.records[d.FrameID]
	if !ok {
		rec = &record{
			fragmentCount: d.FragmentCount,
			fragments:     make(map[uint16][]byte),
			firstSeen:     time.Now(),
		}
		c.records[d.FrameID] = rec
		c.order = append(c.order, d.FrameID)
		c.evictOverCapacity()
	}

	if _, exists := rec.fragments[d.FragmentIndex]; !exists {
		payload := make([]byte, len(d.Payload))
		copy(payload, d.Payload)
		rec.fragments[d.FragmentIndex] = payload
	}

	if len(rec.fragments) == int(rec.fragmentCount) {
		encoded := make([]byte, 0, len(rec.fragments)*len(d.Payload))
		for i := uint16(0); i < rec.fragmentCount; i++ {
			encoded = append(encoded, rec.fragments[i]...)
		}
		c.removeRecord(d.FrameID)
		c.stats.FramesEmitted++
		c.mu.Unlock()

		emit(encoded)
		return
	}

	c.mu.Unlock()
}

// evictStale removes any record older than StaleTimeout. Must be called
// with c.mu held.
func (c *Collector) evictStale() {
	if len(c.order) == 0 {
		return
	}
	now := time.Now()
	kept := c.order[:0]
	for _, id := range c.order {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		if now.Sub(rec.firstSeen) > StaleTimeout {
			delete(c.records, id)
			c.stats.FramesDropped++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

// evictOverCapacity discards the oldest record(s) until at most
// MaxInflight remain. Must be called with c.mu held.
func (c *Collector) evictOverCapacity() {
	for len(c.order) > MaxInflight {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.records[oldest]; ok {
			delete(c.records, oldest)
			c.stats.FramesDropped++
		}
	}
}

// removeRecord deletes a completed record from both the map and the order
// slice. Must be called with c.mu held.
func (c *Collector) removeRecord(id uint32) {
	delete(c.records, id)
	for i, fid := range c.order {
		if fid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Stats returns a snapshot of loss accounting since creation or the last
// Reset.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset discards all in-flight records and zeros the stats.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[uint32]*record)
	c.order = nil
	c.stats = Stats{}
}
