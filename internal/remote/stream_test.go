package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/cenkalti/backoff/v4"
)

func TestListenResumesFromLastEventID(t *testing.T) {
	var mu sync.Mutex
	var resumeHeaders []string
	attempts := 0

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		attempt := attempts
		resumeHeaders = append(resumeHeaders, r.Header.Get(headerLastEventID))
		mu.Unlock()

		w.Header().Set("Content-Type", mediaEventStream)
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		switch attempt {
		case 1:
			fmt.Fprint(w, "id: 5\nevent: ready\ndata: {}\n\n")
			fmt.Fprint(w, "id: 6\nevent: put\ndata: {\"comment_id\":\"c1\",\"comment\":{\"author\":\"alice\",\"body\":\"one\",\"created_at\":1700000000000}}\n\n")
			flusher.Flush()
		default:
			fmt.Fprint(w, "id: 6\nevent: ready\ndata: {}\n\n")
			fmt.Fprint(w, ": keep-alive\n\n")
			fmt.Fprint(w, "id: 7\nevent: delete\ndata: {\"comment_id\":\"c1\"}\n\n")
			flusher.Flush()
			<-r.Context().Done()
		}
	})
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)

	backend, err := New(Config{
		BaseURL: httpServer.URL,
		BackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) },
	})
	if err != nil {
		t.Fatalf("failed to construct backend: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := backend.Listen(ctx, "liver_dot_scn")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	put := receiveChange(t, changes)
	if put.Kind != comments.ChangePut || put.Sequence != 6 || put.Comment == nil || put.Comment.ID != "c1" {
		t.Fatalf("unexpected first change: %#v", put)
	}
	deleted := receiveChange(t, changes)
	if deleted.Kind != comments.ChangeDelete || deleted.Sequence != 7 || deleted.CommentID != "c1" {
		t.Fatalf("unexpected resumed change: %#v", deleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(resumeHeaders) != 2 || resumeHeaders[0] != "" || resumeHeaders[1] != "6" {
		t.Fatalf("expected fresh connect then resume from 6, got %#v", resumeHeaders)
	}
}

func TestListenClosesWhenBackOffGivesUp(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		attempt := attempts
		mu.Unlock()
		if attempt > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", mediaEventStream)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "id: 0\nevent: ready\ndata: {}\n\n")
	})
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)

	backend, err := New(Config{
		BaseURL: httpServer.URL,
		BackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
		},
	})
	if err != nil {
		t.Fatalf("failed to construct backend: %v", err)
	}

	changes, err := backend.Listen(context.Background(), "liver_dot_scn")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	select {
	case _, ok := <-changes:
		if ok {
			t.Fatalf("expected no changes before the stream is abandoned")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the stream to be abandoned")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected initial connect plus two retries, got %d", attempts)
	}
}

func TestReadEventsParsesMultilineData(t *testing.T) {
	body := strings.NewReader(": comment\nid: 3\nevent: put\ndata: {\"a\":\ndata: 1}\n\ndata: plain\n\n")

	var events []sseEvent
	err := readEvents(body, func(event sseEvent) error {
		events = append(events, event)
		return nil
	})
	if err != errStreamEnded {
		t.Fatalf("expected end-of-stream error, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "3" || events[0].Event != "put" || events[0].Data != "{\"a\":\n1}" {
		t.Fatalf("unexpected first event: %#v", events[0])
	}
	if events[1].Event != "message" || events[1].Data != "plain" {
		t.Fatalf("unexpected second event: %#v", events[1])
	}
}
