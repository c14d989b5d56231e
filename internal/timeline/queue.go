// Package timeline holds the discrete-event substrate of the simulator: a
// time-ordered queue of pending events and the append-only log of changes
// every mutation is published through.
package timeline

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// ErrCausality is returned when an event is scheduled before the current time.
var ErrCausality = errors.New("event scheduled in the past")

// Handler runs when its event is dispatched.
type Handler func() error

// Event is a scheduled future callback. Events with equal Time are dispatched
// in increasing Seq order, i.e. in the order they were scheduled.
type Event struct {
	Time    float64
	Seq     uint64
	Name    string
	Handler Handler
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%.3f#%d", e.Name, e.Time, e.Seq)
}

// Queue is a min-priority queue of events keyed by (Time, Seq).
// It is not safe for concurrent use.
type Queue struct {
	pq  eventPQ
	seq uint64
	now float64
}

// NewQueue returns an empty queue positioned at time zero.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.pq)
	return q
}

// Schedule enqueues h to run at time t. t must not be before Now.
func (q *Queue) Schedule(t float64, name string, h Handler) (*Event, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("scheduling %q: invalid time %v", name, t)
	}
	if t < q.now {
		return nil, fmt.Errorf("scheduling %q at %.3f, now %.3f: %w", name, t, q.now, ErrCausality)
	}
	ev := &Event{Time: t, Seq: q.seq, Name: name, Handler: h}
	q.seq++
	heap.Push(&q.pq, ev)
	return ev, nil
}

// Pop removes the earliest event and advances Now to its time.
func (q *Queue) Pop() (*Event, bool) {
	if q.pq.Len() == 0 {
		return nil, false
	}
	ev := heap.Pop(&q.pq).(*Event)
	q.now = ev.Time
	return ev, true
}

// Peek returns the earliest event without removing it.
func (q *Queue) Peek() (*Event, bool) {
	if q.pq.Len() == 0 {
		return nil, false
	}
	return q.pq[0], true
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return q.pq.Len() }

// Now returns the time of the last dispatched event.
func (q *Queue) Now() float64 { return q.now }

// eventPQ implements heap.Interface ordered by (Time, Seq) ascending.
type eventPQ []*Event

func (pq eventPQ) Len() int { return len(pq) }

func (pq eventPQ) Less(i, j int) bool {
	if pq[i].Time != pq[j].Time {
		return pq[i].Time < pq[j].Time
	}
	return pq[i].Seq < pq[j].Seq
}

func (pq eventPQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *eventPQ) Push(x any) { *pq = append(*pq, x.(*Event)) }

func (pq *eventPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
