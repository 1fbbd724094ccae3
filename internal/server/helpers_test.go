package server

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/database"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/docstore"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T, heartbeat time.Duration) (http.Handler, *docstore.Service, *realtime.Dispatcher) {
	t.Helper()
	return newTestHandlerWithPublisher(t, heartbeat, nil)
}

// newTestHandlerWithPublisher routes committed changes through wrap when it is set.
func newTestHandlerWithPublisher(t *testing.T, heartbeat time.Duration, wrap func(*realtime.Dispatcher) docstore.Publisher) (http.Handler, *docstore.Service, *realtime.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "comments.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	dispatcher := realtime.NewDispatcher()
	var publisher docstore.Publisher = dispatcher
	if wrap != nil {
		publisher = wrap(dispatcher)
	}
	service, err := docstore.NewService(docstore.ServiceConfig{
		Database:   db,
		IDProvider: docstore.NewUUIDProvider(),
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Service:           service,
		Dispatcher:        dispatcher,
		Logger:            zap.NewExample(),
		HeartbeatInterval: heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler, service, dispatcher
}
