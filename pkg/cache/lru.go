package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

type lruEntry struct {
	key       string
	answer    models.Answer
	storedAt  time.Time
	ttl       time.Duration
	listElem  *list.Element
}

// localLRU is a thread-safe, bounded, TTL-checked in-process cache tier.
// Expired entries are only reaped lazily on Get — there's no background
// sweep, matching the runbook-cache posture this is grounded on.
type localLRU struct {
	mu         sync.Mutex
	maxEntries int
	clock      ports.ClockPort

	entries map[string]*lruEntry
	order   *list.List // front = most recently used
}

func newLocalLRU(maxEntries int, clock ports.ClockPort) *localLRU {
	return &localLRU{
		maxEntries: maxEntries,
		clock:      clock,
		entries:    make(map[string]*lruEntry),
		order:      list.New(),
	}
}

func (l *localLRU) get(key string) (models.Answer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return models.Answer{}, false
	}
	if l.clock.Now().Sub(e.storedAt) > e.ttl {
		l.removeLocked(e)
		return models.Answer{}, false
	}
	l.order.MoveToFront(e.listElem)
	return e.answer, true
}

func (l *localLRU) put(key string, answer models.Answer, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[key]; ok {
		l.removeLocked(existing)
	}

	e := &lruEntry{key: key, answer: answer, storedAt: l.clock.Now(), ttl: ttl}
	e.listElem = l.order.PushFront(e)
	l.entries[key] = e

	for len(l.entries) > l.maxEntries {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.removeLocked(oldest.Value.(*lruEntry))
	}
}

// removeLocked must be called with l.mu held.
func (l *localLRU) removeLocked(e *lruEntry) {
	delete(l.entries, e.key)
	l.order.Remove(e.listElem)
}

func (l *localLRU) invalidate(pattern string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, e := range l.entries {
		if Match(key, pattern) {
			l.removeLocked(e)
			n++
		}
	}
	return n
}

func (l *localLRU) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
