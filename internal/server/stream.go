package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerLastEventID = "Last-Event-ID"
	querySince        = "since"
)

type streamEventPayload struct {
	CommentID string            `json:"comment_id"`
	Comment   *comments.Comment `json:"comment,omitempty"`
}

// handleStream serves committed changes for one key as Server-Sent Events, read from the change log
// in change id order. Every stream opens with a ready event whose id is the resume cursor. A client resuming with Last-Event-ID (or ?since=) then
// receives every logged change after that id, zero included; a fresh client starts at the newest
// logged change.
// The response ends when the dispatcher evicts a lagging subscriber; clients reconnect and replay.
func (h *httpHandler) handleStream(c *gin.Context) {
	key := c.Param(paramKey)
	cursor, resume, err := parseCursor(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx, key)
	defer cleanup()

	var backlog []comments.Change
	if resume {
		backlog, err = h.service.ListChanges(ctx, key, cursor)
	} else {
		cursor, err = h.service.LatestSequence(ctx, key)
	}
	if err != nil {
		h.respondError(c, "failed to prepare stream", err)
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if err := writeReady(c.Writer, cursor); err != nil {
		return
	}
	c.Writer.Flush()

	lastSent := cursor
	for _, change := range backlog {
		if err := writeChangeEvent(c.Writer, change); err != nil {
			return
		}
		lastSent = change.Sequence
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeHeartbeat(c.Writer); err != nil {
				return
			}
			c.Writer.Flush()
		case message, ok := <-stream:
			if !ok {
				h.logger.Info("realtime subscriber evicted", zap.String("resource_key", key), zap.Int64("last_event_id", lastSent))
				return
			}
			if message.Sequence <= lastSent {
				continue
			}
			// the message only signals new log entries; publishes can arrive out of commit order
			pending, err := h.service.ListChanges(ctx, key, lastSent)
			if err != nil {
				h.logger.Error("stream catch-up failed", zap.String("resource_key", key), zap.Int64("last_event_id", lastSent), zap.Error(err))
				return
			}
			for _, change := range pending {
				if err := writeChangeEvent(c.Writer, change); err != nil {
					return
				}
				lastSent = change.Sequence
			}
			c.Writer.Flush()
		}
	}
}

func parseCursor(c *gin.Context) (int64, bool, error) {
	raw := strings.TrimSpace(c.GetHeader(headerLastEventID))
	if raw == "" {
		raw = strings.TrimSpace(c.Query(querySince))
	}
	if raw == "" {
		return 0, false, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, false, fmt.Errorf("invalid event cursor %q", raw)
	}
	return cursor, true, nil
}

func writeChangeEvent(w io.Writer, change comments.Change) error {
	payload, err := json.Marshal(streamEventPayload{CommentID: change.CommentID, Comment: change.Comment})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", change.Sequence, change.Kind, payload)
	return err
}

func writeReady(w io.Writer, cursor int64) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: {}\n\n", cursor, realtime.EventReady)
	return err
}

func writeHeartbeat(w io.Writer) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", realtime.EventHeartbeat)
	return err
}
