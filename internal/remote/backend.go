// Package remote implements comments.Backend against a sofanotes-server over HTTP, following
// its Server-Sent-Events stream for live changes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	defaultReconnectTimeout = time.Minute

	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	mediaJSON         = "application/json"
	mediaEventStream  = "text/event-stream"
)

var (
	errMissingBaseURL = errors.New("remote: base url is required")
	errUnsupportedURL = errors.New("remote: base url must be http or https")
)

// Config describes how to reach the comment store.
type Config struct {
	BaseURL      string
	HTTPClient   *http.Client
	StreamClient *http.Client
	BackOff      func() backoff.BackOff
	Logger       *zap.Logger
}

// Backend talks to the comment store's HTTP API.
type Backend struct {
	baseURL      *url.URL
	httpClient   *http.Client
	streamClient *http.Client
	newBackOff   func() backoff.BackOff
	logger       *zap.Logger
}

// New validates cfg and constructs a Backend. No request is made until the first call.
func New(cfg Config) (*Backend, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, errUnsupportedURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	streamClient := cfg.StreamClient
	if streamClient == nil {
		streamClient = &http.Client{}
	}
	newBackOff := cfg.BackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		baseURL:      baseURL,
		httpClient:   httpClient,
		streamClient: streamClient,
		newBackOff:   newBackOff,
		logger:       logger,
	}, nil
}

type createRequest struct {
	Author       string `json:"author"`
	Body         string `json:"body"`
	OriginalPath string `json:"original_path,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

type updateRequest struct {
	Body string `json:"body"`
}

type listResponse struct {
	Comments comments.Collection `json:"comments"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Push implements comments.Backend.
func (b *Backend) Push(ctx context.Context, key string, comment comments.Comment) (string, error) {
	var response createResponse
	err := b.do(ctx, http.MethodPost, b.commentsPath(key), createRequest{
		Author:       comment.Author,
		Body:         comment.Body,
		OriginalPath: comment.OriginalPath,
		ParentID:     comment.ParentID,
	}, http.StatusCreated, &response)
	if err != nil {
		return "", err
	}
	return response.ID, nil
}

// Patch implements comments.Backend.
func (b *Backend) Patch(ctx context.Context, key, commentID, body string) error {
	return b.do(ctx, http.MethodPatch, b.commentPath(key, commentID), updateRequest{Body: body}, http.StatusNoContent, nil)
}

// Remove implements comments.Backend.
func (b *Backend) Remove(ctx context.Context, key, commentID string) error {
	return b.do(ctx, http.MethodDelete, b.commentPath(key, commentID), nil, http.StatusNoContent, nil)
}

// Fetch implements comments.Backend.
func (b *Backend) Fetch(ctx context.Context, key string) (comments.Collection, error) {
	var response listResponse
	if err := b.do(ctx, http.MethodGet, b.commentsPath(key), nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	if response.Comments == nil {
		response.Comments = comments.Collection{}
	}
	return response.Comments, nil
}

func (b *Backend) do(ctx context.Context, method, path string, payload any, expected int, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, b.resolve(path), body)
	if err != nil {
		return err
	}
	request.Header.Set(headerAccept, mediaJSON)
	if payload != nil {
		request.Header.Set(headerContentType, mediaJSON)
	}

	response, err := b.httpClient.Do(request)
	if err != nil {
		return comments.Unavailable(err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != expected {
		return statusError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return comments.Unavailable(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func statusError(response *http.Response) error {
	var payload errorResponse
	_ = json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&payload)
	code := payload.Error
	if code == "" {
		code = http.StatusText(response.StatusCode)
	}
	switch response.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", comments.ErrValidation, code)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", comments.ErrNotFound, code)
	default:
		return comments.Unavailable(fmt.Errorf("unexpected status %d: %s", response.StatusCode, code))
	}
}

func (b *Backend) commentsPath(key string) string {
	return "/resources/" + url.PathEscape(key) + "/comments"
}

func (b *Backend) commentPath(key, commentID string) string {
	return b.commentsPath(key) + "/" + url.PathEscape(commentID)
}

func (b *Backend) streamPath(key string) string {
	return "/resources/" + url.PathEscape(key) + "/stream"
}

func (b *Backend) resolve(path string) string {
	target := *b.baseURL
	target.RawPath = b.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(target.RawPath)
	if err != nil {
		unescaped = target.RawPath
	}
	target.Path = unescaped
	return target.String()
}

func defaultBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = defaultReconnectTimeout
	return policy
}
