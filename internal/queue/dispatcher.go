package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/agentbridge/internal/telemetry"
)

// Defaults for the consumer loop.
const (
	DefaultIdleTimeout       = 60 * time.Second
	DefaultInterMessageDelay = 500 * time.Millisecond
	DefaultErrorBackoff      = time.Second
)

// SendFunc delivers one message for a channel.
type SendFunc func(ctx context.Context, channelID, text string) error

// Dispatcher owns one queue and consumer per channel.
//
// Messages for a channel are delivered in enqueue order, each at most
// once. Different channels are consumed concurrently; serializing the
// actual keystrokes is the SendFunc's job.
type Dispatcher struct {
	send        SendFunc
	idleTimeout time.Duration
	delay       time.Duration
	backoff     time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	queues   map[string]*Queue
	shutdown bool

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that delivers through send.
func NewDispatcher(send SendFunc) *Dispatcher {
	return &Dispatcher{
		send:        send,
		idleTimeout: DefaultIdleTimeout,
		delay:       DefaultInterMessageDelay,
		backoff:     DefaultErrorBackoff,
		logger:      slog.Default().With("component", "queue"),
		queues:      make(map[string]*Queue),
	}
}

// WithIdleTimeout sets how long a consumer waits before re-checking for
// cancellation when its queue is empty.
func (d *Dispatcher) WithIdleTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.idleTimeout = t
	}
	return d
}

// WithInterMessageDelay sets the pause after each delivered message.
func (d *Dispatcher) WithInterMessageDelay(t time.Duration) *Dispatcher {
	if t >= 0 {
		d.delay = t
	}
	return d
}

// WithErrorBackoff sets the pause after a consumer recovers from a panic.
func (d *Dispatcher) WithErrorBackoff(t time.Duration) *Dispatcher {
	if t >= 0 {
		d.backoff = t
	}
	return d
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	if l != nil {
		d.logger = l.With("component", "queue")
	}
	return d
}

// Enqueue appends text to channelID's queue, starting its consumer if
// needed.
func (d *Dispatcher) Enqueue(channelID, text string) error {
	key := QueueKey(channelID)

	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return ErrShutdown
	}
	q, ok := d.queues[key]
	if !ok {
		q = newQueue(key)
		d.queues[key] = q
		d.wg.Add(1)
		go d.consume(channelID, q)
		d.logger.Debug("queue created", "queue", key)
	}
	depth, err := q.push(Item{ChannelID: channelID, Text: text, EnqueuedAt: time.Now()})
	d.mu.Unlock()

	if err != nil {
		// Only reachable if a queue in the map was closed, which
		// RemoveSession and Shutdown never leave behind.
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	telemetry.RecordEnqueue(context.Background(), key, depth)
	d.logger.Debug("message queued", "queue", key, "depth", depth)
	return nil
}

func (d *Dispatcher) consume(channelID string, q *Queue) {
	defer d.wg.Done()
	d.logger.Debug("consumer started", "queue", q.key)
	for {
		item, res := q.next(d.idleTimeout)
		switch res {
		case closed:
			d.logger.Debug("consumer stopped", "queue", q.key)
			return
		case idle:
			continue
		}

		pause := d.delay
		if !d.deliver(channelID, q.key, item) {
			pause = d.backoff
		}
		if !sleepOrDone(pause, q.done) {
			d.logger.Debug("consumer stopped", "queue", q.key)
			return
		}
	}
}

// deliver runs the SendFunc for one item. It returns false when the send
// panicked. Plain send errors are logged and count as handled.
func (d *Dispatcher) deliver(channelID, key string, item Item) (ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("consumer recovered from panic", "queue", key, "panic", r)
			telemetry.RecordDispatch(context.Background(), key, msSince(start), fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	err := d.send(context.Background(), channelID, item.Text)
	telemetry.RecordDispatch(context.Background(), key, msSince(start), err)
	if err != nil {
		d.logger.Error("send failed", "queue", key, "error", err)
		return true
	}
	d.logger.Debug("message delivered", "queue", key, "waited", start.Sub(item.EnqueuedAt))
	return true
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

// sleepOrDone waits for d and reports false if done closed first.
func sleepOrDone(d time.Duration, done <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}

// RemoveSession stops channelID's consumer and discards its pending
// messages. A send already in progress finishes. It returns the number of
// discarded messages.
func (d *Dispatcher) RemoveSession(channelID string) int {
	key := QueueKey(channelID)
	d.mu.Lock()
	q, ok := d.queues[key]
	if ok {
		delete(d.queues, key)
	}
	d.mu.Unlock()
	if !ok {
		return 0
	}
	n := q.close()
	d.logger.Info("queue removed", "queue", key, "discarded", n)
	return n
}

// Shutdown removes every queue and waits for all consumers to exit or ctx
// to end. Enqueue fails with ErrShutdown afterwards.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.shutdown = true
	queues := d.queues
	d.queues = make(map[string]*Queue)
	d.mu.Unlock()

	for _, q := range queues {
		if n := q.close(); n > 0 {
			d.logger.Info("discarding queued messages", "queue", q.key, "count", n)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for consumers: %w", ctx.Err())
	}
}

// QueueSize returns the number of messages waiting for channelID.
func (d *Dispatcher) QueueSize(channelID string) int {
	d.mu.Lock()
	q, ok := d.queues[QueueKey(channelID)]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Len()
}

// ClearQueue drops messages waiting for channelID without stopping its
// consumer and returns how many were dropped.
func (d *Dispatcher) ClearQueue(channelID string) int {
	d.mu.Lock()
	q, ok := d.queues[QueueKey(channelID)]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Clear()
}

// Channels returns the channel IDs that currently have a queue, sorted.
func (d *Dispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.queues))
	for key := range d.queues {
		out = append(out, key[len("channel-"):])
	}
	sort.Strings(out)
	return out
}
