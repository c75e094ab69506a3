package stats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/flux-loadgen/internal/events"
)

// ConnectionStats holds live counters for one worker connection. All fields
// are updated atomically; the worker writes while the reporter reads.
type ConnectionStats struct {
	ID int

	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	FramesSent    atomic.Uint64
	FramesDropped atomic.Uint64

	Results       atomic.Uint64
	SpeechStarted atomic.Uint64
	UtteranceEnd  atomic.Uint64
	Metadata      atomic.Uint64
	Other         atomic.Uint64
}

// RecordSent accounts one outbound audio chunk.
func (c *ConnectionStats) RecordSent(n int) {
	c.BytesSent.Add(uint64(n))
	c.FramesSent.Add(1)
}

// RecordDropped accounts frames this connection missed due to lag.
func (c *ConnectionStats) RecordDropped(n uint64) {
	if n > 0 {
		c.FramesDropped.Add(n)
	}
}

// RecordReceived accounts one inbound service message of the given kind.
func (c *ConnectionStats) RecordReceived(kind events.Kind, n int) {
	c.BytesReceived.Add(uint64(n))

	switch kind {
	case events.KindResult:
		c.Results.Add(1)
	case events.KindSpeechStarted:
		c.SpeechStarted.Add(1)
	case events.KindUtteranceEnd:
		c.UtteranceEnd.Add(1)
	case events.KindMetadata:
		c.Metadata.Add(1)
	default:
		c.Other.Add(1)
	}
}

// Snapshot is a point-in-time copy of one connection's counters.
type Snapshot struct {
	ID            int    `json:"id"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	Results       uint64 `json:"results"`
	SpeechStarted uint64 `json:"speech_started"`
	UtteranceEnd  uint64 `json:"utterance_end"`
	Metadata      uint64 `json:"metadata"`
	Other         uint64 `json:"other"`
}

func (c *ConnectionStats) snapshot() Snapshot {
	return Snapshot{
		ID:            c.ID,
		BytesSent:     c.BytesSent.Load(),
		BytesReceived: c.BytesReceived.Load(),
		FramesSent:    c.FramesSent.Load(),
		FramesDropped: c.FramesDropped.Load(),
		Results:       c.Results.Load(),
		SpeechStarted: c.SpeechStarted.Load(),
		UtteranceEnd:  c.UtteranceEnd.Load(),
		Metadata:      c.Metadata.Load(),
		Other:         c.Other.Load(),
	}
}

// Table is the registry of all connection counters.
type Table struct {
	mu    sync.RWMutex
	conns map[int]*ConnectionStats
}

// NewTable creates an empty stats table.
func NewTable() *Table {
	return &Table{conns: make(map[int]*ConnectionStats)}
}

// GetOrCreate returns the counters for id, registering them on first use.
func (t *Table) GetOrCreate(id int) *ConnectionStats {
	t.mu.RLock()
	c, ok := t.conns[id]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[id]; ok {
		return c
	}
	c = &ConnectionStats{ID: id}
	t.conns[id] = c
	return c
}

// Snapshot returns a copy of every connection's counters, ordered by id.
func (t *Table) Snapshot() []Snapshot {
	t.mu.RLock()
	snaps := make([]Snapshot, 0, len(t.conns))
	for _, c := range t.conns {
		snaps = append(snaps, c.snapshot())
	}
	t.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Totals sums every connection's counters into a single snapshot with ID -1.
func (t *Table) Totals() Snapshot {
	total := Snapshot{ID: -1}
	for _, s := range t.Snapshot() {
		total.BytesSent += s.BytesSent
		total.BytesReceived += s.BytesReceived
		total.FramesSent += s.FramesSent
		total.FramesDropped += s.FramesDropped
		total.Results += s.Results
		total.SpeechStarted += s.SpeechStarted
		total.UtteranceEnd += s.UtteranceEnd
		total.Metadata += s.Metadata
		total.Other += s.Other
	}
	return total
}
