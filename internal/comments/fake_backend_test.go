package comments

import (
	"context"
	"fmt"
	"sync"
)

// memoryBackend is an in-memory Backend whose change streams are driven by its own writes.
type memoryBackend struct {
	mu        sync.Mutex
	documents map[string]Collection
	streams   map[string][]chan Change
	nextID    int
	clock     int64
	sequence  int64
	pushes    int
	fetches   int

	pushErr   error
	fetchErr  error
	listenErr error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		documents: make(map[string]Collection),
		streams:   make(map[string][]chan Change),
		clock:     1700000000000,
	}
}

func (b *memoryBackend) Push(_ context.Context, key string, comment Comment) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes++
	if b.pushErr != nil {
		return "", b.pushErr
	}
	b.nextID++
	b.clock += 1000
	id := fmt.Sprintf("c%03d", b.nextID)
	comment.ID = id
	comment.CreatedAt = TimestampAt(b.clock)
	if b.documents[key] == nil {
		b.documents[key] = Collection{}
	}
	b.documents[key][id] = comment
	stored := comment
	b.broadcast(key, Change{Kind: ChangePut, CommentID: id, Comment: &stored})
	return id, nil
}

func (b *memoryBackend) Patch(_ context.Context, key, commentID, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	comment, ok := b.documents[key][commentID]
	if !ok {
		return ErrNotFound
	}
	b.clock += 1000
	edited := TimestampAt(b.clock)
	comment.Body = body
	comment.EditedAt = &edited
	b.documents[key][commentID] = comment
	stored := comment
	b.broadcast(key, Change{Kind: ChangePut, CommentID: commentID, Comment: &stored})
	return nil
}

func (b *memoryBackend) Remove(_ context.Context, key, commentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.documents[key][commentID]; !ok {
		return ErrNotFound
	}
	delete(b.documents[key], commentID)
	b.broadcast(key, Change{Kind: ChangeDelete, CommentID: commentID})
	return nil
}

func (b *memoryBackend) Fetch(_ context.Context, key string) (Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	collection := make(Collection, len(b.documents[key]))
	for id, comment := range b.documents[key] {
		collection[id] = comment
	}
	return collection, nil
}

func (b *memoryBackend) Listen(ctx context.Context, key string) (<-chan Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listenErr != nil {
		return nil, b.listenErr
	}
	stream := make(chan Change, 64)
	b.streams[key] = append(b.streams[key], stream)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dropStream(key, stream)
	}()
	return stream, nil
}

// closeStreams simulates the backend going away.
func (b *memoryBackend) closeStreams(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, stream := range b.streams[key] {
		close(stream)
	}
	delete(b.streams, key)
}

func (b *memoryBackend) setFetchErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

func (b *memoryBackend) counts() (pushes, fetches int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes, b.fetches
}

func (b *memoryBackend) broadcast(key string, change Change) {
	b.sequence++
	change.Sequence = b.sequence
	for _, stream := range b.streams[key] {
		stream <- change
	}
}

func (b *memoryBackend) dropStream(key string, target chan Change) {
	streams := b.streams[key]
	for index, stream := range streams {
		if stream == target {
			close(stream)
			b.streams[key] = append(streams[:index], streams[index+1:]...)
			return
		}
	}
}
