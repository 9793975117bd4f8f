package executor

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedQueueDrains(t *testing.T) {
	q := newSharedQueue([]int{4, 2, 7})
	var got []int
	for {
		i, ok := q.next(0)
		if !ok {
			break
		}
		got = append(got, i)
	}
	assert.Equal(t, []int{4, 2, 7}, got)
}

func TestStealingQueue(t *testing.T) {
	q := newStealingQueue([]int{0, 1, 2, 3, 4, 5}, 2)
	var steals [][2]int
	q.steals = func(thief, victim int) { steals = append(steals, [2]int{thief, victim}) }

	// Worker 1 owns 1, 3, 5 and takes them front first.
	for _, want := range []int{1, 3, 5} {
		i, ok := q.next(1)
		assert.True(t, ok)
		assert.Equal(t, want, i)
	}
	// Then it steals from the back of worker 0's deque.
	i, ok := q.next(1)
	assert.True(t, ok)
	assert.Equal(t, 4, i)
	assert.Equal(t, [][2]int{{1, 0}}, steals)

	// Worker 0 still gets its own front.
	i, ok = q.next(0)
	assert.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestStealingQueueHandsOutEachItemOnce(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	q := newStealingQueue(items, 3)

	var got []int
	for w := 2; ; w = (w + 1) % 3 {
		i, ok := q.next(w)
		if !ok {
			break
		}
		got = append(got, i)
	}
	sort.Ints(got)
	assert.Equal(t, items, got)
}
