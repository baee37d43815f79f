// Package timer implements the idle-connection timer heap: a binary
// min-heap of expiry times keyed by connection id, with an id→index map
// so a node can be adjusted or removed in O(log n).
package timer

import (
	"sync"
	"time"
)

// ExpireFunc is invoked with the id of an expired node.
type ExpireFunc func(id int)

type node struct {
	id      int
	expires time.Time
	cb      ExpireFunc
}

// HeapTimer is safe for concurrent use. Callbacks run without the lock
// held and may call back into the timer.
type HeapTimer struct {
	mu   sync.Mutex
	heap []node
	ref  map[int]int
	now  func() time.Time
}

// New creates an empty timer heap using the wall clock.
func New() *HeapTimer {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty timer heap with a custom clock.
func NewWithClock(now func() time.Time) *HeapTimer {
	return &HeapTimer{
		heap: make([]node, 0, 64),
		ref:  make(map[int]int),
		now:  now,
	}
}

// Add arms id to expire after timeout. A known id is updated in place.
func (t *HeapTimer) Add(id int, timeout time.Duration, cb ExpireFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expires := t.now().Add(timeout)
	if i, ok := t.ref[id]; ok {
		t.heap[i].expires = expires
		t.heap[i].cb = cb
		t.fix(i)
		return
	}
	i := len(t.heap)
	t.ref[id] = i
	t.heap = append(t.heap, node{id: id, expires: expires, cb: cb})
	t.siftUp(i)
}

// Adjust pushes the expiry of id to now+timeout. It reports false if id is unknown.
func (t *HeapTimer) Adjust(id int, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.ref[id]
	if !ok {
		return false
	}
	t.heap[i].expires = t.now().Add(timeout)
	t.fix(i)
	return true
}

// Trigger fires the callback of id immediately and deletes the node.
func (t *HeapTimer) Trigger(id int) {
	t.mu.Lock()
	i, ok := t.ref[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	n := t.heap[i]
	t.del(i)
	t.mu.Unlock()

	if n.cb != nil {
		n.cb(n.id)
	}
}

// Remove deletes id without firing its callback.
func (t *HeapTimer) Remove(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.ref[id]
	if !ok {
		return false
	}
	t.del(i)
	return true
}

// Tick fires every node whose expiry is at or before now, earliest first.
func (t *HeapTimer) Tick() {
	for {
		t.mu.Lock()
		if len(t.heap) == 0 || t.heap[0].expires.After(t.now()) {
			t.mu.Unlock()
			return
		}
		n := t.heap[0]
		t.del(0)
		t.mu.Unlock()

		if n.cb != nil {
			n.cb(n.id)
		}
	}
}

// Pop removes the root unconditionally.
func (t *HeapTimer) Pop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.heap) > 0 {
		t.del(0)
	}
}

// NextTick runs Tick and returns the time until the new root expires.
// ok is false when no timers are pending; a due root yields (0, true).
func (t *HeapTimer) NextTick() (d time.Duration, ok bool) {
	t.Tick()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.heap) == 0 {
		return 0, false
	}
	d = t.heap[0].expires.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len returns the number of pending timers.
func (t *HeapTimer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Clear drops every pending timer.
func (t *HeapTimer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.heap = t.heap[:0]
	clear(t.ref)
}

func (t *HeapTimer) less(i, j int) bool {
	return t.heap[i].expires.Before(t.heap[j].expires)
}

func (t *HeapTimer) swap(i, j int) {
	t.heap[i], t.heap[j] = t.heap[j], t.heap[i]
	t.ref[t.heap[i].id] = i
	t.ref[t.heap[j].id] = j
}

func (t *HeapTimer) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !t.less(i, parent) {
			break
		}
		t.swap(i, parent)
		i = parent
	}
}

// siftDown moves i down within heap[:n] and reports whether it moved.
func (t *HeapTimer) siftDown(i, n int) bool {
	start := i
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if child+1 < n && t.less(child+1, child) {
			child++
		}
		if !t.less(child, i) {
			break
		}
		t.swap(i, child)
		i = child
	}
	return i > start
}

func (t *HeapTimer) fix(i int) {
	if !t.siftDown(i, len(t.heap)) {
		t.siftUp(i)
	}
}

// del swaps index with the last node, restores order and drops the last slot.
func (t *HeapTimer) del(index int) {
	last := len(t.heap) - 1
	if index < last {
		t.swap(index, last)
		if !t.siftDown(index, last) {
			t.siftUp(index)
		}
	}
	delete(t.ref, t.heap[last].id)
	t.heap[last] = node{}
	t.heap = t.heap[:last]
}
