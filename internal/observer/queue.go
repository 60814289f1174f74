package observer

import (
	"sync"
	"time"
)

// ConfirmedMessage is a candidate that survived its grace period.
type ConfirmedMessage struct {
	Contact     string
	Preview     string
	ConfirmedAt time.Time
}

// OperatorActivity signals that the human operator sent something in the
// contact's conversation.
type OperatorActivity struct {
	Contact    string
	ObservedAt time.Time
}

// confirmedQueue is a FIFO drained by the host loop. It lives on the
// Observer struct so queued items survive observer reinjection.
type confirmedQueue struct {
	mu    sync.Mutex
	items []ConfirmedMessage
}

func (q *confirmedQueue) Push(m ConfirmedMessage) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

func (q *confirmedQueue) Drain() []ConfirmedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *confirmedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type activityQueue struct {
	mu    sync.Mutex
	items []OperatorActivity
}

func (q *activityQueue) Push(a OperatorActivity) {
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()
}

func (q *activityQueue) Drain() []OperatorActivity {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
