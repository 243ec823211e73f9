package dedup

import (
	"container/list"
	"encoding/hex"
	"fmt"
	"sync"
)

// DefaultCapacity is the number of recent signatures remembered.
const DefaultCapacity = 100

// Signature returns the dedup key of an uplink: devaddr, frame counter and
// the hex of the still-encrypted FRMPayload.
func Signature(devAddr string, fCnt uint16, frmPayload []byte) string {
	return fmt.Sprintf("%s-%d-%s", devAddr, fCnt, hex.EncodeToString(frmPayload))
}

// Window is a bounded FIFO set of recently seen signatures. A lookup never
// refreshes an entry's position; once capacity is reached the oldest
// insertion is evicted.
type Window struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

// NewWindow creates a Window. Capacities below 1 fall back to
// DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Window{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element, capacity),
	}
}

// CheckAndRecord reports whether sig is new. New signatures are recorded.
func (w *Window) CheckAndRecord(sig string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[sig]; ok {
		return false
	}

	if w.order.Len() >= w.capacity {
		oldest := w.order.Front()
		w.order.Remove(oldest)
		delete(w.seen, oldest.Value.(string))
	}

	w.seen[sig] = w.order.PushBack(sig)
	return true
}

// Len returns the number of remembered signatures.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}
