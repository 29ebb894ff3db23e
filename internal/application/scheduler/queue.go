package scheduler

import (
	"container/heap"
	"time"
)

// item es un pool programado. Sólo el loop del scheduler lo toca.
type item struct {
	poolID   string
	due      time.Time
	inFlight bool
	index    int // posición en dueQueue, -1 si no está encolado
}

// dueQueue es un min-heap por próxima lectura.
type dueQueue []*item

func (q dueQueue) Len() int           { return len(q) }
func (q dueQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }
func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

func (q *dueQueue) schedule(it *item, due time.Time) {
	it.due = due
	if it.index >= 0 {
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, it)
}

func (q *dueQueue) remove(it *item) {
	if it.index >= 0 {
		heap.Remove(q, it.index)
	}
}

// popDue saca hasta max items vencidos en now.
func (q *dueQueue) popDue(now time.Time, max int) []*item {
	var out []*item
	for q.Len() > 0 && len(out) < max && !(*q)[0].due.After(now) {
		out = append(out, heap.Pop(q).(*item))
	}
	return out
}
