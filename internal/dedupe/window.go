// ABOUTME: Bounded TTL window of recently seen inbound event ids
// ABOUTME: Entries are kept in mark order so expiry and eviction pop from the front

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	id     string
	seenAt time.Time
}

// Window tracks event ids seen within the last TTL. Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	byID    map[string]*list.Element
	order   *list.List // *entry, oldest mark at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewWindow creates a window. maxSize <= 0 means unbounded.
func NewWindow(ttl time.Duration, maxSize int) *Window {
	return &Window{
		byID:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether id was already seen within the TTL. An unseen or
// expired id is recorded and false is returned, so exactly one of several
// concurrent callers with the same id gets false.
func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.byID[id]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < w.ttl {
			return true
		}
		e.seenAt = now
		w.order.MoveToBack(el)
		return false
	}

	if w.maxSize > 0 && len(w.byID) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.byID[id] = w.order.PushBack(&entry{id: id, seenAt: now})
	return false
}

// Len returns the number of remembered ids.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID)
}

// Prune drops expired ids and returns how many were removed.
func (w *Window) Prune() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seenAt) < w.ttl {
			break
		}
		w.removeLocked(el)
		removed++
	}
	return removed
}

// Run prunes every interval until ctx is done.
func (w *Window) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Prune()
		}
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.byID, el.Value.(*entry).id)
}
