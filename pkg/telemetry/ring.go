package telemetry

import (
	"sync"

	"github.com/edge-tutor/node/pkg/models"
)

// DefaultRingCapacity is sized for a full tick of load at the default
// worker/queue ceilings (spec §4.8: "capacity sized so a full tick of load
// fits").
const DefaultRingCapacity = 4096

// ring is a bounded, thread-safe event buffer. Record() is non-blocking:
// once full it overwrites the oldest entry, and the overflow is counted
// (spec §4.8: "event enqueue is non-blocking ... the overflow is itself
// counted").
type ring struct {
	mu       sync.Mutex
	buf      []models.TelemetryEvent
	next     int
	count    int
	overflow int64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &ring{buf: make([]models.TelemetryEvent, capacity)}
}

func (r *ring) push(e models.TelemetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == len(r.buf) {
		r.overflow++
	} else {
		r.count++
	}
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
}

// snapshot drains every currently-buffered event (oldest first) and resets
// the buffer, returning the overflow count accumulated since the last
// snapshot.
func (r *ring) snapshot() ([]models.TelemetryEvent, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.TelemetryEvent, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}

	overflow := r.overflow
	r.next, r.count, r.overflow = 0, 0, 0
	return out, overflow
}
