// Package realtime fans comment changes out to subscribers of a resource key.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
)

const (
	// EventHeartbeat names the keep-alive event sent on idle streams.
	EventHeartbeat = "heartbeat"
	// EventReady opens every stream and carries the cursor the stream resumes from.
	EventReady = "ready"

	defaultBufferSize = 64
)

// Message is one committed change under a resource key.
type Message struct {
	ResourceKey string              `json:"resource_key"`
	Kind        comments.ChangeKind `json:"kind"`
	CommentID   string              `json:"comment_id"`
	Comment     *comments.Comment   `json:"comment,omitempty"`
	Sequence    int64               `json:"sequence"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Change converts the message to the client-side change shape.
func (m Message) Change() comments.Change {
	return comments.Change{
		Kind:      m.Kind,
		CommentID: m.CommentID,
		Comment:   m.Comment,
		Sequence:  m.Sequence,
	}
}

// Dispatcher delivers messages to in-process subscribers keyed by resource key.
// A subscriber that falls behind is evicted and its stream closed, so that it can
// reconnect and replay from the change log instead of silently missing changes.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers for messages under key. The stream is closed when ctx ends, cleanup
// runs, or the subscriber is evicted for lagging.
func (d *Dispatcher) Subscribe(ctx context.Context, key string) (<-chan Message, func()) {
	if key == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.registerSubscriber(key, sub)
	cleanup := func() {
		d.unregisterSubscriber(key, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to every subscriber of its key without blocking.
func (d *Dispatcher) Publish(message Message) {
	if message.ResourceKey == "" || message.Kind == "" {
		return
	}
	var lagging []int64
	d.mu.RLock()
	for _, sub := range d.subscribers[message.ResourceKey] {
		select {
		case sub.stream <- message:
		default:
			lagging = append(lagging, sub.id)
		}
	}
	d.mu.RUnlock()
	for _, id := range lagging {
		d.unregisterSubscriber(message.ResourceKey, id)
	}
}

// SubscriberCount returns the number of live subscribers under key.
func (d *Dispatcher) SubscriberCount(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[key])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(key string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber)
	}
	d.subscribers[key][sub.id] = sub
}

func (d *Dispatcher) unregisterSubscriber(key string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[key]
	if subscribers == nil {
		return
	}
	sub, ok := subscribers[subscriberID]
	if !ok {
		return
	}
	delete(subscribers, subscriberID)
	close(sub.stream)
	if len(subscribers) == 0 {
		delete(d.subscribers, key)
	}
}
