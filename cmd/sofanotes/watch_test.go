package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/compose"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/config"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/database"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/docstore"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/examples"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/render"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/session"
	"go.uber.org/zap"
)

func TestWatchLoopCommands(t *testing.T) {
	ctx := context.Background()
	loop, out := newTestLoop(t)

	if err := loop.handle(ctx, "Mesh looks coarse"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	pump(t, loop.session, func() bool { return len(loop.session.Snapshot()) == 1 })
	root := loop.session.Threads()[0].Comment

	if err := loop.handle(ctx, "/reply "+render.ShortID(root.ID)); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if loop.session.Compose().Mode() != compose.ModeReplying {
		t.Fatalf("expected reply mode")
	}
	if err := loop.handle(ctx, "noted"); err != nil {
		t.Fatalf("reply save failed: %v", err)
	}
	pump(t, loop.session, func() bool { return len(loop.session.Snapshot()) == 2 })
	reply := loop.session.Threads()[0].Children[0].Comment
	if reply.Body != "@alice noted" || reply.ParentID != root.ID {
		t.Fatalf("unexpected reply: %#v", reply)
	}

	out.Reset()
	if err := loop.handle(ctx, "/delete "+root.ID); err != nil {
		t.Fatalf("delete prompt failed: %v", err)
	}
	if !strings.Contains(out.String(), "Delete comment #"+render.ShortID(root.ID)) {
		t.Fatalf("expected confirmation prompt, got %q", out.String())
	}
	if err := loop.handle(ctx, "n"); err != nil {
		t.Fatalf("declining delete failed: %v", err)
	}
	if _, ok := loop.session.Snapshot().Lookup(root.ID); !ok {
		t.Fatalf("declined delete must keep the comment")
	}

	if err := loop.handle(ctx, "/notify off"); err != nil || loop.session.Coordinator().Enabled() {
		t.Fatalf("expected alerts off, err=%v", err)
	}
	if err := loop.handle(ctx, "/notify maybe"); err == nil {
		t.Fatalf("expected usage error")
	}
	if err := loop.handle(ctx, "/bogus"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := loop.handle(ctx, "/quit"); !errors.Is(err, errQuit) {
		t.Fatalf("expected quit, got %v", err)
	}
}

func TestWatchLoopRejectsForeignDelete(t *testing.T) {
	ctx := context.Background()
	loop, _ := newTestLoop(t)

	if err := loop.handle(ctx, "mine"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	pump(t, loop.session, func() bool { return len(loop.session.Snapshot()) == 1 })
	commentID := loop.session.Threads()[0].Comment.ID

	other, err := session.New(session.Config{
		User:     "bob",
		Client:   loop.client,
		Listener: comments.NewListener(comments.ListenerConfig{Client: loop.client}),
	})
	if err != nil {
		t.Fatalf("failed to construct session: %v", err)
	}
	t.Cleanup(other.Close)
	if err := other.SelectResource(ctx, loop.session.Resource()); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	loop.session = other

	if err := loop.handle(ctx, "/delete "+commentID); !errors.Is(err, comments.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if loop.pendingDelete != "" {
		t.Fatalf("no confirmation may be pending after a rejected delete")
	}
}

func TestIsYes(t *testing.T) {
	for _, answer := range []string{"y", "Y", " yes\n", "YES"} {
		if !isYes(answer) {
			t.Fatalf("expected %q to confirm", answer)
		}
	}
	for _, answer := range []string{"", "n", "no", "yep"} {
		if isYes(answer) {
			t.Fatalf("expected %q to decline", answer)
		}
	}
	var out bytes.Buffer
	if !confirm(strings.NewReader("y\n"), &out, "sure? ") || out.String() != "sure? " {
		t.Fatalf("expected confirmation with prompt, got %q", out.String())
	}
	if confirm(strings.NewReader(""), &out, "sure? ") {
		t.Fatalf("empty input must decline")
	}
}

type testLoop struct {
	*watchLoop
	client *comments.Client
}

func newTestLoop(t *testing.T) (*testLoop, *bytes.Buffer) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "comments.db"), zap.NewNop())
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
	backend, err := docstore.NewLocalBackend(service, dispatcher, nil)
	if err != nil {
		t.Fatalf("failed to construct backend: %v", err)
	}
	client := comments.NewClient(comments.ClientConfig{Backend: backend})
	current, err := session.New(session.Config{
		User:     "alice",
		Client:   client,
		Listener: comments.NewListener(comments.ListenerConfig{Client: client}),
	})
	if err != nil {
		t.Fatalf("failed to construct session: %v", err)
	}
	t.Cleanup(current.Close)
	if err := current.SelectResource(context.Background(), "Demos/liver.scn"); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	theme := render.PlainTheme()
	out := &bytes.Buffer{}
	application := &app{
		cfg:      config.ClientConfig{UserName: "alice"},
		logger:   zap.NewNop(),
		catalog:  examples.NewCatalog(t.TempDir()),
		renderer: render.NewRenderer(render.Config{Theme: &theme}),
	}
	return &testLoop{
		watchLoop: &watchLoop{application: application, session: current, reference: "Demos/liver.scn", out: out},
		client:    client,
	}, out
}

func pump(t *testing.T, current *session.Session, ready func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !ready() {
		select {
		case event, ok := <-current.Events():
			if !ok {
				t.Fatalf("subscription closed while waiting")
			}
			current.Apply(event)
		case <-deadline:
			t.Fatalf("timed out waiting for session state")
		}
	}
}
