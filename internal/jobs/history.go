package jobs

import "sync"

// historyNode is a doubly linked list node holding one job.
type historyNode struct {
	job  *Job
	prev *historyNode
	next *historyNode
}

// history is a bounded, thread-safe job index. Lookups mark a job as
// recently used; inserting past capacity evicts the least recently used job.
type history struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*historyNode
	head     *historyNode // most recently used (sentinel)
	tail     *historyNode // least recently used (sentinel)
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	head, tail := &historyNode{}, &historyNode{}
	head.next = tail
	tail.prev = head
	return &history{
		capacity: capacity,
		items:    make(map[string]*historyNode, capacity),
		head:     head,
		tail:     tail,
	}
}

// add inserts j and returns the evicted job, if any.
func (h *history) add(j *Job) *Job {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n, ok := h.items[j.ID]; ok {
		n.job = j
		h.moveToFront(n)
		return nil
	}

	var evicted *Job
	if len(h.items) >= h.capacity {
		victim := h.tail.prev
		h.remove(victim)
		delete(h.items, victim.job.ID)
		evicted = victim.job
	}

	n := &historyNode{job: j}
	h.items[j.ID] = n
	h.pushFront(n)
	return evicted
}

func (h *history) get(id string) (*Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.items[id]
	if !ok {
		return nil, false
	}
	h.moveToFront(n)
	return n.job, true
}

// all returns every job from most to least recently used.
func (h *history) all() []*Job {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Job, 0, len(h.items))
	for cur := h.head.next; cur != h.tail; cur = cur.next {
		out = append(out, cur.job)
	}
	return out
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// caller must hold mu

func (h *history) remove(n *historyNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (h *history) pushFront(n *historyNode) {
	n.next = h.head.next
	n.prev = h.head
	h.head.next.prev = n
	h.head.next = n
}

func (h *history) moveToFront(n *historyNode) {
	h.remove(n)
	h.pushFront(n)
}
