package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/database"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/docstore"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/server"
	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestBackendRoundTripAgainstStore(t *testing.T) {
	backend := newStoreBackend(t)
	ctx := context.Background()
	key := comments.NormalizeKey("scenes/my liver.scn")

	rootID, err := backend.Push(ctx, key, comments.Comment{Author: "alice", Body: "root", OriginalPath: "scenes/my liver.scn"})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	replyID, err := backend.Push(ctx, key, comments.Comment{Author: "bob", Body: "reply", ParentID: rootID})
	if err != nil {
		t.Fatalf("push reply failed: %v", err)
	}
	if err := backend.Patch(ctx, key, replyID, "reply, edited"); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	collection, err := backend.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(collection) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(collection))
	}
	reply := collection[replyID]
	if reply.Body != "reply, edited" || !reply.Edited() || reply.ParentID != rootID {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if collection[rootID].CreatedAt.Pending() {
		t.Fatalf("expected server-assigned timestamp")
	}

	if err := backend.Remove(ctx, key, rootID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := backend.Remove(ctx, key, rootID); !errors.Is(err, comments.ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
	if err := backend.Patch(ctx, key, "ghost", "x"); !errors.Is(err, comments.ErrNotFound) {
		t.Fatalf("expected not found on patch, got %v", err)
	}
	if _, err := backend.Push(ctx, key, comments.Comment{Author: "bob", Body: "   "}); !errors.Is(err, comments.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBackendFetchUnknownKeyIsEmpty(t *testing.T) {
	backend := newStoreBackend(t)

	collection, err := backend.Fetch(context.Background(), "never_dot_scn")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if collection == nil || len(collection) != 0 {
		t.Fatalf("expected empty collection, got %#v", collection)
	}
}

func TestBackendListenDeliversLiveChanges(t *testing.T) {
	backend := newStoreBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := "liver_dot_scn"

	changes, err := backend.Listen(ctx, key)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	commentID, err := backend.Push(ctx, key, comments.Comment{Author: "alice", Body: "hello"})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	put := receiveChange(t, changes)
	if put.Kind != comments.ChangePut || put.CommentID != commentID || put.Comment == nil || put.Comment.Body != "hello" {
		t.Fatalf("unexpected put change: %#v", put)
	}
	if put.Comment.ID != commentID {
		t.Fatalf("expected comment id to be filled, got %q", put.Comment.ID)
	}

	if err := backend.Remove(ctx, key, commentID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	deleted := receiveChange(t, changes)
	if deleted.Kind != comments.ChangeDelete || deleted.CommentID != commentID || deleted.Sequence <= put.Sequence {
		t.Fatalf("unexpected delete change: %#v", deleted)
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			t.Fatalf("expected stream to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream to close")
	}
}

func TestBackendReportsUnreachableStore(t *testing.T) {
	unreachable := httptest.NewServer(http.NotFoundHandler())
	address := unreachable.URL
	unreachable.Close()

	backend, err := New(Config{BaseURL: address})
	if err != nil {
		t.Fatalf("failed to construct backend: %v", err)
	}
	if _, err := backend.Fetch(context.Background(), "liver_dot_scn"); !errors.Is(err, comments.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable on fetch, got %v", err)
	}
	if _, err := backend.Listen(context.Background(), "liver_dot_scn"); !errors.Is(err, comments.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable on listen, got %v", err)
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	tests := []string{"", "   ", "ftp://example.com", "://bad"}
	for _, raw := range tests {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
}

func newStoreBackend(t *testing.T) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "store.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	dispatcher := realtime.NewDispatcher()
	service, err := docstore.NewService(docstore.ServiceConfig{
		Database:   db,
		IDProvider: docstore.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{Service: service, Dispatcher: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)

	backend, err := New(Config{
		BaseURL: httpServer.URL + "/",
		BackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) },
	})
	if err != nil {
		t.Fatalf("failed to construct backend: %v", err)
	}
	return backend
}

func receiveChange(t *testing.T, changes <-chan comments.Change) comments.Change {
	t.Helper()
	select {
	case change, ok := <-changes:
		if !ok {
			t.Fatalf("change stream closed unexpectedly")
		}
		return change
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return comments.Change{}
}
