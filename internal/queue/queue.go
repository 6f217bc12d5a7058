// Package queue serializes inbound messages per channel.
//
// Each channel gets its own FIFO queue and a consumer goroutine that hands
// messages to a SendFunc one at a time, pausing between messages so the
// agent can start on one before the next is typed. Queues and consumers are
// created lazily on the first message for a channel.
package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrShutdown is returned by Enqueue once the Dispatcher has shut down.
var ErrShutdown = errors.New("dispatcher shut down")

// errClosed is returned by push on a queue that has been removed.
var errClosed = errors.New("queue closed")

// QueueKey returns the internal key of channelID's queue.
func QueueKey(channelID string) string {
	return "channel-" + channelID
}

// Item is one queued message.
type Item struct {
	ChannelID  string
	Text       string
	EnqueuedAt time.Time
}

// waitResult says why Queue.next returned.
type waitResult int

const (
	gotItem waitResult = iota
	idle
	closed
)

// Queue is a FIFO of pending messages for one channel.
type Queue struct {
	key string

	mu     sync.Mutex
	items  []Item
	closed bool

	notify chan struct{} // capacity 1; signalled on push
	done   chan struct{} // closed on close
}

func newQueue(key string) *Queue {
	return &Queue{
		key:    key,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Key returns the queue's key.
func (q *Queue) Key() string { return q.key }

func (q *Queue) push(item Item) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errClosed
	}
	q.items = append(q.items, item)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n, nil
}

// next blocks until an item is available, timeout elapses, or the queue is
// closed. Items are only handed out while the queue is open.
func (q *Queue) next(timeout time.Duration) (Item, waitResult) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Item{}, closed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = Item{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, gotItem
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
			return Item{}, closed
		case <-timer.C:
			return Item{}, idle
		}
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards pending items and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// close marks the queue closed, wakes its consumer and returns the number
// of discarded items.
func (q *Queue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	n := len(q.items)
	q.items = nil
	close(q.done)
	return n
}
