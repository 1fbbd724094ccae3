// Package session holds the per-user view of one selected resource: its comment snapshot,
// the live subscription, the compose state and the unread counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/compose"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/notify"
	"go.uber.org/zap"
)

var (
	errMissingUser      = errors.New("session: user is required")
	errMissingClient    = errors.New("session: comment client is required")
	errNoResource       = errors.New("no resource selected")
	errMissingListener  = errors.New("session: listener is required")
	errFirstEventAbsent = errors.New("subscription closed before the initial snapshot")
)

// Config describes the dependencies of a Session.
type Config struct {
	User        string
	Client      *comments.Client
	Listener    *comments.Listener
	Coordinator *notify.Coordinator
	Logger      *zap.Logger
}

// Session is driven by a single goroutine that alternates between user actions and Apply
// calls for events read from Events. It is not safe for concurrent use.
type Session struct {
	user        string
	client      *comments.Client
	listener    *comments.Listener
	coordinator *notify.Coordinator
	compose     *compose.Machine
	logger      *zap.Logger

	resource     string
	subscription *comments.Subscription
	snapshot     comments.Collection
	threads      []comments.ThreadNode
	online       bool
}

// New constructs a Session with no resource selected.
func New(cfg Config) (*Session, error) {
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		return nil, errMissingUser
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Listener == nil {
		return nil, errMissingListener
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = notify.NewCoordinator(notify.CoordinatorConfig{Enabled: true, Logger: logger})
	}
	return &Session{
		user:        user,
		client:      cfg.Client,
		listener:    cfg.Listener,
		coordinator: coordinator,
		compose:     compose.NewMachine(user),
		logger:      logger,
		snapshot:    comments.Collection{},
		online:      cfg.Client.Available(),
	}, nil
}

// User returns the local identity.
func (s *Session) User() string { return s.user }

// Resource returns the selected resource, empty when none.
func (s *Session) Resource() string { return s.resource }

// Compose exposes the compose state for display.
func (s *Session) Compose() *compose.Machine { return s.compose }

// Coordinator exposes the notification state for display.
func (s *Session) Coordinator() *notify.Coordinator { return s.coordinator }

// Online reports whether the last backend interaction succeeded.
func (s *Session) Online() bool { return s.online }

// Threads returns the threads built from the latest snapshot.
func (s *Session) Threads() []comments.ThreadNode { return s.threads }

// Snapshot returns the latest collection for the selected resource.
func (s *Session) Snapshot() comments.Collection { return s.snapshot }

// Events returns the active subscription's events, or nil when there is none.
func (s *Session) Events() <-chan comments.Event {
	if s.subscription == nil {
		return nil
	}
	return s.subscription.Events()
}

// SelectResource switches the session to resource. The compose state and unread counter are
// reset and the prior subscription is closed before the new one is attached. When the backend
// is unavailable the resource is still selected and the returned error explains why the view
// is empty.
func (s *Session) SelectResource(ctx context.Context, resource string) error {
	s.compose.Reset()
	s.coordinator.MarkAllRead()
	s.subscription.Close()
	s.subscription = nil
	s.resource = resource
	s.replaceSnapshot(comments.Collection{})

	subscription, err := s.listener.Subscribe(ctx, resource)
	if err != nil {
		s.online = false
		s.logger.Warn("resource subscription failed", zap.String("resource", resource), zap.Error(err))
		return err
	}
	s.subscription = subscription

	select {
	case event, ok := <-subscription.Events():
		if !ok {
			s.online = false
			return comments.Unavailable(errFirstEventAbsent)
		}
		s.Apply(event)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Apply folds an event into the session and reports whether it raised an alert.
// Events for a resource other than the selected one are ignored.
func (s *Session) Apply(event comments.Event) bool {
	if event.Resource != s.resource {
		return false
	}
	switch event.Kind {
	case comments.EventSnapshot:
		s.online = true
		s.replaceSnapshot(event.Snapshot)
	case comments.EventNewLeaf:
		return s.coordinator.Handle(s.resource, event)
	case comments.EventFailure:
		s.online = false
		s.logger.Warn("comment stream failure", zap.String("resource", s.resource), zap.Error(event.Err))
	}
	return false
}

// Disconnected drops a subscription whose event channel was closed.
func (s *Session) Disconnected() {
	s.subscription.Close()
	s.subscription = nil
	s.online = false
}

// Refresh refetches the collection outside the event stream.
func (s *Session) Refresh(ctx context.Context) error {
	if s.resource == "" {
		return fmt.Errorf("%w: %v", comments.ErrValidation, errNoResource)
	}
	snapshot, err := s.client.FetchAll(ctx, s.resource)
	if err != nil {
		s.online = false
		return err
	}
	s.online = true
	s.replaceSnapshot(snapshot)
	return nil
}

// StartEdit loads one of the user's own comments into the compose buffer.
func (s *Session) StartEdit(ctx context.Context, commentID string) error {
	comment, ok := s.snapshot.Lookup(commentID)
	if !ok {
		return s.dropStale(ctx, "edit", commentID)
	}
	return s.compose.StartEdit(comment)
}

// StartReply prepares a reply to any comment.
func (s *Session) StartReply(ctx context.Context, commentID string) error {
	comment, ok := s.snapshot.Lookup(commentID)
	if !ok {
		return s.dropStale(ctx, "reply", commentID)
	}
	s.compose.StartReply(comment)
	return nil
}

// Delete removes one of the user's own comments. Confirmation is the caller's concern.
func (s *Session) Delete(ctx context.Context, commentID string) error {
	comment, ok := s.snapshot.Lookup(commentID)
	if !ok {
		return s.dropStale(ctx, "delete", commentID)
	}
	if err := s.compose.AuthorizeDelete(comment); err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.resource, commentID); err != nil {
		if errors.Is(err, comments.ErrNotFound) {
			return s.dropStale(ctx, "delete", commentID)
		}
		return err
	}
	return nil
}

// SetText replaces the compose buffer.
func (s *Session) SetText(text string) {
	s.compose.SetText(text)
}

// Cancel abandons any edit or reply in progress.
func (s *Session) Cancel() {
	s.compose.Cancel()
}

// Save dispatches the compose buffer. A target that vanished meanwhile is treated as resolved.
func (s *Session) Save(ctx context.Context) error {
	if s.resource == "" {
		return fmt.Errorf("%w: %v", comments.ErrValidation, errNoResource)
	}
	target := s.compose.Target()
	err := s.compose.Save(ctx, s.resource, s.client)
	if err == nil {
		return nil
	}
	if errors.Is(err, comments.ErrNotFound) {
		s.compose.Cancel()
		return s.dropStale(ctx, "save", target)
	}
	if errors.Is(err, comments.ErrBackendUnavailable) {
		s.online = false
	}
	return err
}

// MarkAllRead zeroes the unread counter.
func (s *Session) MarkAllRead() {
	s.coordinator.MarkAllRead()
}

// SetNotifications toggles alerts for new comments.
func (s *Session) SetNotifications(enabled bool) {
	s.coordinator.SetEnabled(enabled)
}

// Close releases the active subscription.
func (s *Session) Close() {
	s.subscription.Close()
	s.subscription = nil
}

func (s *Session) dropStale(ctx context.Context, action, commentID string) error {
	s.logger.Debug("dropping action on missing comment",
		zap.String("action", action),
		zap.String("resource", s.resource),
		zap.String("comment_id", commentID))
	if s.resource == "" || !s.client.Available() {
		return nil
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after stale action failed", zap.String("resource", s.resource), zap.Error(err))
	}
	return nil
}

func (s *Session) replaceSnapshot(snapshot comments.Collection) {
	if snapshot == nil {
		snapshot = comments.Collection{}
	}
	s.snapshot = snapshot
	s.threads = comments.BuildThreads(snapshot)
}
