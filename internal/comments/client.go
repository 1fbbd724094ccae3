package comments

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Backend is the key-addressed document store the client talks to.
// Push and Patch leave timestamp assignment to the store.
type Backend interface {
	Push(ctx context.Context, key string, comment Comment) (string, error)
	Patch(ctx context.Context, key, commentID, body string) error
	Remove(ctx context.Context, key, commentID string) error
	Fetch(ctx context.Context, key string) (Collection, error)
	// Listen streams changes under key until ctx is cancelled or the backend is lost,
	// then closes the channel.
	Listen(ctx context.Context, key string) (<-chan Change, error)
}

const (
	opCreate   = "comments.create"
	opUpdate   = "comments.update"
	opDelete   = "comments.delete"
	opFetchAll = "comments.fetch_all"
	opListen   = "comments.listen"

	reasonMissingBackend    = "missing_backend"
	reasonBackendFailed     = "backend_failed"
	reasonNotFound          = "not_found"
	reasonInvalidResource   = "invalid_resource"
	reasonInvalidCommentID  = "invalid_comment_id"
	reasonSnapshotFailed    = "snapshot_failed"
	reasonStreamUnavailable = "stream_unavailable"

	fieldResource  = "resource"
	fieldKey       = "key"
	fieldCommentID = "comment_id"
)

var (
	errMissingBackend = errors.New("comment backend is not configured")
	noOpLogger        = zap.NewNop()
)

// ClientConfig describes the dependencies of a Client.
type ClientConfig struct {
	Backend Backend
	Logger  *zap.Logger
}

// Client performs comment CRUD against a Backend, scoping every call by the normalized resource key.
// A Client without a backend is valid and reports ErrBackendUnavailable on every call.
type Client struct {
	backend Backend
	logger  *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{backend: cfg.Backend, logger: logger}
}

// Available reports whether a backend is configured.
func (c *Client) Available() bool {
	return c != nil && c.backend != nil
}

// Create stores a new comment. The assigned id arrives later through the change stream.
func (c *Client) Create(ctx context.Context, resource, author, body, parentID string) error {
	key, err := c.scope(opCreate, resource)
	if err != nil {
		return err
	}
	comment := Comment{
		Author:       author,
		Body:         body,
		CreatedAt:    PendingTimestamp(),
		ParentID:     strings.TrimSpace(parentID),
		OriginalPath: resource,
	}
	if _, err := c.backend.Push(ctx, key, comment); err != nil {
		return c.backendError(opCreate, err, zap.String(fieldResource, resource))
	}
	return nil
}

// Update replaces the body of an existing comment.
func (c *Client) Update(ctx context.Context, resource, commentID, body string) error {
	key, err := c.scope(opUpdate, resource)
	if err != nil {
		return err
	}
	if strings.TrimSpace(commentID) == "" {
		return NewServiceError(opUpdate, reasonInvalidCommentID, ErrNotFound)
	}
	if err := c.backend.Patch(ctx, key, commentID, body); err != nil {
		return c.backendError(opUpdate, err, zap.String(fieldResource, resource), zap.String(fieldCommentID, commentID))
	}
	return nil
}

// Delete removes a single comment. Replies are left in place.
func (c *Client) Delete(ctx context.Context, resource, commentID string) error {
	key, err := c.scope(opDelete, resource)
	if err != nil {
		return err
	}
	if strings.TrimSpace(commentID) == "" {
		return NewServiceError(opDelete, reasonInvalidCommentID, ErrNotFound)
	}
	if err := c.backend.Remove(ctx, key, commentID); err != nil {
		return c.backendError(opDelete, err, zap.String(fieldResource, resource), zap.String(fieldCommentID, commentID))
	}
	return nil
}

// FetchAll returns the current collection for resource; never nil on success.
func (c *Client) FetchAll(ctx context.Context, resource string) (Collection, error) {
	key, err := c.scope(opFetchAll, resource)
	if err != nil {
		return nil, err
	}
	collection, err := c.backend.Fetch(ctx, key)
	if err != nil {
		return nil, c.backendError(opFetchAll, err, zap.String(fieldResource, resource))
	}
	if collection == nil {
		collection = Collection{}
	}
	for id, comment := range collection {
		if comment.ID == "" {
			comment.ID = id
			collection[id] = comment
		}
	}
	return collection, nil
}

func (c *Client) listen(ctx context.Context, resource string) (<-chan Change, error) {
	key, err := c.scope(opListen, resource)
	if err != nil {
		return nil, err
	}
	changes, err := c.backend.Listen(ctx, key)
	if err != nil {
		c.logError(opListen, reasonStreamUnavailable, err, zap.String(fieldKey, key))
		return nil, NewServiceError(opListen, reasonStreamUnavailable, Unavailable(err))
	}
	return changes, nil
}

func (c *Client) scope(operation, resource string) (string, error) {
	if !c.Available() {
		return "", NewServiceError(operation, reasonMissingBackend, Unavailable(errMissingBackend))
	}
	if strings.TrimSpace(resource) == "" {
		return "", NewServiceError(operation, reasonInvalidResource, ErrValidation)
	}
	return NormalizeKey(resource), nil
}

func (c *Client) backendError(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrNotFound) {
		return NewServiceError(operation, reasonNotFound, err)
	}
	c.logError(operation, reasonBackendFailed, err, fields...)
	return NewServiceError(operation, reasonBackendFailed, Unavailable(err))
}

func (c *Client) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("comment store error", attrs...)
}
