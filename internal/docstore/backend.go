package docstore

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"go.uber.org/zap"
)

var errMissingService = errors.New("docstore: service and dispatcher are required")

// LocalBackend serves comments.Backend in-process from a Service and the Dispatcher it publishes to.
type LocalBackend struct {
	service    *Service
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

// NewLocalBackend constructs a LocalBackend.
func NewLocalBackend(service *Service, dispatcher *realtime.Dispatcher, logger *zap.Logger) (*LocalBackend, error) {
	if service == nil || dispatcher == nil {
		return nil, errMissingService
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &LocalBackend{service: service, dispatcher: dispatcher, logger: logger}, nil
}

// Push implements comments.Backend.
func (b *LocalBackend) Push(ctx context.Context, key string, comment comments.Comment) (string, error) {
	return b.service.Push(ctx, key, comment)
}

// Patch implements comments.Backend.
func (b *LocalBackend) Patch(ctx context.Context, key, commentID, body string) error {
	return b.service.Patch(ctx, key, commentID, body)
}

// Remove implements comments.Backend.
func (b *LocalBackend) Remove(ctx context.Context, key, commentID string) error {
	return b.service.Remove(ctx, key, commentID)
}

// Fetch implements comments.Backend.
func (b *LocalBackend) Fetch(ctx context.Context, key string) (comments.Collection, error) {
	return b.service.Fetch(ctx, key)
}

// Listen implements comments.Backend. The stream starts after the newest logged change. A
// dispatcher message only signals that the log grew: every wake-up reads the log after the last
// delivered change, so changes published out of commit order are still delivered in order and
// none is skipped. When the dispatcher evicts the subscriber for lagging, the stream
// resubscribes and catches up from the log the same way.
func (b *LocalBackend) Listen(ctx context.Context, key string) (<-chan comments.Change, error) {
	if !comments.ValidKey(key) {
		return nil, comments.ErrValidation
	}
	stream, cleanup := b.dispatcher.Subscribe(ctx, key)
	lastSequence, err := b.service.LatestSequence(ctx, key)
	if err != nil {
		cleanup()
		return nil, err
	}

	out := make(chan comments.Change)
	go func() {
		defer close(out)
		defer func() { cleanup() }()

		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-stream:
				if !ok {
					if ctx.Err() != nil {
						return
					}
					b.logger.Warn("local stream lagged, replaying", zap.String(fieldResourceKey, key), zap.Int64("after", lastSequence))
					stream, cleanup = b.dispatcher.Subscribe(ctx, key)
				} else if message.Sequence != 0 && message.Sequence <= lastSequence {
					continue
				}
				missed, err := b.service.ListChanges(ctx, key, lastSequence)
				if err != nil {
					b.logger.Error("local stream catch-up failed", zap.String(fieldResourceKey, key), zap.Error(err))
					return
				}
				for _, change := range missed {
					select {
					case out <- change:
						lastSequence = change.Sequence
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
