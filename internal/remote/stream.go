package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	headerLastEventID = "Last-Event-ID"
	maxEventSize      = 1 << 20

	noCursor int64 = -1
)

var errStreamEnded = errors.New("remote: change stream ended")

type sseEvent struct {
	ID    string
	Event string
	Data  string
}

type streamPayload struct {
	CommentID string            `json:"comment_id"`
	Comment   *comments.Comment `json:"comment"`
}

// Listen implements comments.Backend. The first connection is made before returning so that an
// unreachable store is reported to the caller. Later disconnects are retried with exponential
// backoff, resuming from the last event id; the channel closes once the backoff gives up or ctx ends.
func (b *Backend) Listen(ctx context.Context, key string) (<-chan comments.Change, error) {
	if !comments.ValidKey(key) {
		return nil, comments.ErrValidation
	}
	body, err := b.openStream(ctx, key, noCursor)
	if err != nil {
		return nil, err
	}

	out := make(chan comments.Change)
	go b.follow(ctx, key, body, out)
	return out, nil
}

func (b *Backend) follow(ctx context.Context, key string, body io.ReadCloser, out chan<- comments.Change) {
	defer close(out)

	lastEventID := noCursor
	policy := backoff.WithContext(b.newBackOff(), ctx)
	for {
		err := b.consume(ctx, body, out, &lastEventID)
		_ = body.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("change stream interrupted", zap.String("resource_key", key), zap.Int64("last_event_id", lastEventID), zap.Error(err))

		body = nil
		for body == nil {
			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				b.logger.Error("change stream abandoned", zap.String("resource_key", key), zap.Int64("last_event_id", lastEventID))
				return
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			body, err = b.openStream(ctx, key, lastEventID)
			if err != nil {
				if errors.Is(err, comments.ErrValidation) || errors.Is(err, comments.ErrNotFound) {
					b.logger.Error("change stream rejected", zap.String("resource_key", key), zap.Error(err))
					return
				}
				body = nil
			}
		}
		policy.Reset()
	}
}

func (b *Backend) openStream(ctx context.Context, key string, lastEventID int64) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, b.resolve(b.streamPath(key)), http.NoBody)
	if err != nil {
		return nil, err
	}
	request.Header.Set(headerAccept, mediaEventStream)
	if lastEventID != noCursor {
		request.Header.Set(headerLastEventID, strconv.FormatInt(lastEventID, 10))
	}

	response, err := b.streamClient.Do(request)
	if err != nil {
		return nil, comments.Unavailable(err)
	}
	if response.StatusCode != http.StatusOK {
		defer func() {
			_ = response.Body.Close()
		}()
		return nil, statusError(response)
	}
	return response.Body, nil
}

func (b *Backend) consume(ctx context.Context, body io.Reader, out chan<- comments.Change, lastEventID *int64) error {
	return readEvents(body, func(event sseEvent) error {
		if event.ID != "" {
			if id, err := strconv.ParseInt(event.ID, 10, 64); err == nil {
				*lastEventID = id
			}
		}
		kind := comments.ChangeKind(event.Event)
		if kind != comments.ChangePut && kind != comments.ChangeDelete {
			// ready and heartbeat only move the cursor
			return nil
		}

		var payload streamPayload
		if err := json.Unmarshal([]byte(event.Data), &payload); err != nil {
			return fmt.Errorf("decode %s event: %w", event.Event, err)
		}
		change := comments.Change{
			Kind:      kind,
			CommentID: payload.CommentID,
			Comment:   payload.Comment,
			Sequence:  *lastEventID,
		}
		if change.Comment != nil && change.Comment.ID == "" {
			change.Comment.ID = change.CommentID
		}
		select {
		case out <- change:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// readEvents parses a text/event-stream body and calls handle for every dispatched event.
// Comment lines and the retry field are ignored; heartbeat and ready events are passed through.
func readEvents(body io.Reader, handle func(sseEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event sseEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 || event.Event != "" {
				event.Data = strings.Join(data, "\n")
				if event.Event == "" {
					event.Event = "message"
				}
				if err := handle(event); err != nil {
					return err
				}
			}
			event = sseEvent{}
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errStreamEnded
}
