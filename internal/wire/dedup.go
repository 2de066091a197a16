package wire

import (
	"container/list"
	"fmt"
	"sync"
)

// dedupCapacity bounds the number of keys retained per Dedup; oldest keys
// are evicted once the cache is full, an in-memory LRU over message ids.
const dedupCapacity = 4096

// Dedup suppresses re-delivery of idempotent messages keyed on
// (tag, taskId, chunkIdx, trainer). Safe for concurrent use.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup returns a Dedup with the default capacity.
func NewDedup() *Dedup {
	return &Dedup{
		capacity: dedupCapacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Key builds the dedup key for a tagged, possibly chunk-scoped message.
// chunkIdx and trainer may be empty for messages that aren't chunk-scoped
// (e.g. AnnounceRole, Advertise).
func Key(tag Tag, taskID uint64, chunkIdx uint32, trainer string) string {
	return fmt.Sprintf("%s/%d/%d/%s", tag, taskID, chunkIdx, trainer)
}

// Seen reports whether key has already been recorded, and records it if
// not. A true return means the caller should drop the message as a repeat.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(key)
	d.index[key] = el
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	return false
}
