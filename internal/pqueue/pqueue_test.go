package pqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueuePopOrdersByPriority(t *testing.T) {
	r := require.New(t)
	q := New()

	q.Enqueue(5, "c")
	q.Enqueue(1, "a")
	q.Enqueue(3, "b")

	r.Equal(3, q.Len())
	r.Equal("a", q.Pop().Value)
	r.Equal("b", q.Pop().Value)
	r.Equal("c", q.Pop().Value)
	r.Nil(q.Pop())
}

func TestPeekDoesNotRemove(t *testing.T) {
	r := require.New(t)
	q := New()
	q.Enqueue(2, "x")

	r.Equal("x", q.Peek().Value)
	r.Equal(1, q.Len())
}

func TestRemoveSpecificEntry(t *testing.T) {
	r := require.New(t)
	q := New()

	a := q.Enqueue(1, "a")
	q.Enqueue(2, "b")
	c := q.Enqueue(3, "c")

	q.Remove(c)
	r.Equal(2, q.Len())

	q.Remove(a)
	r.Equal(1, q.Len())
	r.Equal("b", q.Peek().Value)
}

func TestRemoveIsNoOpAfterAlreadyPopped(t *testing.T) {
	r := require.New(t)
	q := New()
	a := q.Enqueue(1, "a")
	popped := q.Pop()
	r.Equal(a, popped)

	q.Remove(a) // should not panic or affect anything
	r.Equal(0, q.Len())
}
