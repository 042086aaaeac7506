package logstream

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity 每个 bot 保留的最近日志行数
const DefaultCapacity = 1000

// seq is shared by every buffer so a line appended later always has a larger Seq,
// even across the buffers of successive runs of the same bot.
var seq atomic.Uint64

// RingBuffer is a fixed-capacity FIFO of the most recent lines.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []Line
	start int
	size  int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{buf: make([]Line, capacity)}
}

// Append stores l, evicting the oldest line when full, and returns l with its Seq set.
func (r *RingBuffer) Append(l Line) Line {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.Seq = seq.Add(1)
	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = l
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
	return l
}

// Snapshot returns the buffered lines oldest first. Never nil.
func (r *RingBuffer) Snapshot() []Line {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Line, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *RingBuffer) Cap() int {
	return len(r.buf)
}
