package executor

import "sync"

// queue hands out schedule indices to workers.
type queue interface {
	next(worker int) (int, bool)
}

// sharedQueue is a single FIFO all workers pull from.
type sharedQueue chan int

func newSharedQueue(items []int) sharedQueue {
	q := make(sharedQueue, len(items))
	for _, i := range items {
		q <- i
	}
	close(q)
	return q
}

func (q sharedQueue) next(int) (int, bool) {
	i, ok := <-q
	return i, ok
}

type deque struct {
	mu    sync.Mutex
	items []int
}

func (d *deque) popFront() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return 0, false
	}
	i := d.items[0]
	d.items = d.items[1:]
	return i, true
}

func (d *deque) popBack() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return 0, false
	}
	i := d.items[n-1]
	d.items = d.items[:n-1]
	return i, true
}

// stealingQueue deals tasks round-robin onto per-worker deques. A worker
// takes from the front of its own deque and, once that is empty, steals
// from the back of the others.
type stealingQueue struct {
	deques []*deque
	steals func(thief, victim int)
}

func newStealingQueue(items []int, workers int) *stealingQueue {
	q := &stealingQueue{deques: make([]*deque, workers)}
	for w := range q.deques {
		q.deques[w] = &deque{}
	}
	for n, i := range items {
		d := q.deques[n%workers]
		d.items = append(d.items, i)
	}
	return q
}

func (q *stealingQueue) next(worker int) (int, bool) {
	if i, ok := q.deques[worker].popFront(); ok {
		return i, true
	}
	for off := 1; off < len(q.deques); off++ {
		victim := (worker + off) % len(q.deques)
		if i, ok := q.deques[victim].popBack(); ok {
			if q.steals != nil {
				q.steals(worker, victim)
			}
			return i, true
		}
	}
	return 0, false
}
