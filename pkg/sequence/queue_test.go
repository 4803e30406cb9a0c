package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueue_Order(t *testing.T) {
	pq := NewPriorityQueue(func(a, b int) bool { return a < b })
	for _, v := range []int{5, 1, 4, 2, 3} {
		pq.Enqueue(v)
	}
	require.Equal(t, 5, pq.Len())

	head, ok := pq.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, head)

	var got []int
	for !pq.IsEmpty() {
		v, ok := pq.Dequeue()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)

	_, ok = pq.Dequeue()
	assert.False(t, ok)
	_, ok = pq.Peek()
	assert.False(t, ok)
}

func TestPriorityQueue_Clear(t *testing.T) {
	pq := NewPriorityQueue(func(a, b string) bool { return a < b })
	pq.Enqueue("b")
	pq.Enqueue("a")
	pq.Clear()

	assert.True(t, pq.IsEmpty())
	pq.Enqueue("c")
	v, ok := pq.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "c", v)
}
