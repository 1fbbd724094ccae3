package comments

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// EventKind enumerates the signals a Subscription delivers.
type EventKind string

const (
	// EventNewLeaf reports a comment created at a fresh id.
	EventNewLeaf EventKind = "new_leaf"
	// EventSnapshot carries the full collection after any change.
	EventSnapshot EventKind = "snapshot"
	// EventFailure reports a refresh that could not be fetched or a lost change stream.
	EventFailure EventKind = "failure"
)

const defaultEventBufferSize = 16

var errStreamLost = errors.New("change stream closed by backend")

// Event is one classified signal for a subscribed resource.
type Event struct {
	Kind     EventKind
	Resource string
	Comment  Comment
	Snapshot Collection
	Err      error
}

// ListenerConfig describes the dependencies of a Listener.
type ListenerConfig struct {
	Client     *Client
	Logger     *zap.Logger
	BufferSize int
}

// Listener attaches change subscriptions to resources, at most one per resource.
type Listener struct {
	client     *Client
	logger     *zap.Logger
	bufferSize int

	mu     sync.Mutex
	active map[string]*Subscription
}

// NewListener constructs a Listener.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBufferSize
	}
	return &Listener{
		client:     cfg.Client,
		logger:     logger,
		bufferSize: bufferSize,
		active:     make(map[string]*Subscription),
	}
}

// Subscription is a cancellable stream of classified events for one resource.
type Subscription struct {
	resource  string
	events    chan Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	listener  *Listener
}

// Subscribe starts streaming events for resource, replacing any prior subscription to it.
// The first event is always a snapshot of the collection at subscribe time.
func (l *Listener) Subscribe(ctx context.Context, resource string) (*Subscription, error) {
	l.mu.Lock()
	prior := l.active[resource]
	l.mu.Unlock()
	if prior != nil {
		prior.Close()
	}

	subscriptionCtx, cancel := context.WithCancel(ctx)
	changes, err := l.client.listen(subscriptionCtx, resource)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := l.client.FetchAll(subscriptionCtx, resource)
	if err != nil {
		cancel()
		return nil, err
	}

	subscription := &Subscription{
		resource: resource,
		events:   make(chan Event, l.bufferSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		listener: l,
	}

	l.mu.Lock()
	raced := l.active[resource]
	l.active[resource] = subscription
	l.mu.Unlock()
	if raced != nil {
		raced.Close()
	}

	go subscription.run(subscriptionCtx, changes, initial)
	return subscription, nil
}

// Resource returns the human-readable resource the subscription follows.
func (s *Subscription) Resource() string {
	return s.resource
}

// Events returns the channel of classified events. It is closed after Close or a lost stream.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close cancels the subscription and waits for its delivery goroutine to exit.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.listener.release(s)
	})
}

func (l *Listener) release(subscription *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[subscription.resource] == subscription {
		delete(l.active, subscription.resource)
	}
}

func (s *Subscription) run(ctx context.Context, changes <-chan Change, initial Collection) {
	defer close(s.done)
	defer close(s.events)

	known := initial.IDs()
	if !s.emit(ctx, Event{Kind: EventSnapshot, Resource: s.resource, Snapshot: initial}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					s.listener.client.logError(opListen, reasonStreamUnavailable, errStreamLost, zap.String(fieldResource, s.resource))
					s.emit(ctx, Event{Kind: EventFailure, Resource: s.resource, Err: Unavailable(errStreamLost)})
				}
				return
			}
			if !s.handle(ctx, change, known) {
				return
			}
		}
	}
}

func (s *Subscription) handle(ctx context.Context, change Change, known map[string]struct{}) bool {
	if isNewLeaf(change, known) {
		comment := *change.Comment
		comment.ID = change.CommentID
		if !s.emit(ctx, Event{Kind: EventNewLeaf, Resource: s.resource, Comment: comment}) {
			return false
		}
	}
	track(change, known)

	snapshot, err := s.listener.client.FetchAll(ctx, s.resource)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return s.emit(ctx, Event{
			Kind:     EventFailure,
			Resource: s.resource,
			Err:      NewServiceError(opListen, reasonSnapshotFailed, err),
		})
	}
	return s.emit(ctx, Event{Kind: EventSnapshot, Resource: s.resource, Snapshot: snapshot})
}

func (s *Subscription) emit(ctx context.Context, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// isNewLeaf reports whether change creates a record at an id that had none.
// Known ids are seeded from the initial snapshot and afterwards follow the stream only;
// refreshed snapshots never add to them, so a refresh that already shows a comment cannot
// hide that comment's creation event. A comment created between opening the stream and the
// initial fetch is part of the first snapshot and is treated as an update.
func isNewLeaf(change Change, known map[string]struct{}) bool {
	if change.Kind != ChangePut || change.Comment == nil || change.CommentID == "" {
		return false
	}
	_, seen := known[change.CommentID]
	return !seen
}

func track(change Change, known map[string]struct{}) {
	if change.CommentID == "" {
		return
	}
	switch change.Kind {
	case ChangePut:
		if change.Comment != nil {
			known[change.CommentID] = struct{}{}
		}
	case ChangeDelete:
		delete(known, change.CommentID)
	}
}
