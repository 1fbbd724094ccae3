package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/config"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/database"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/docstore"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/examples"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/logging"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/notify"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/recent"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/remote"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/render"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/session"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app bundles what every client command needs.
type app struct {
	cfg      config.ClientConfig
	logger   *zap.Logger
	catalog  *examples.Catalog
	history  *recent.Store
	renderer *render.Renderer
	closers  []func()
}

func newApp() (*app, error) {
	cfg, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewConsoleLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	renderConfig := render.Config{}
	if plain {
		theme := render.PlainTheme()
		renderConfig.Theme = &theme
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  examples.NewCatalog(cfg.ExamplesDir),
		history:  recent.NewStore(cfg.HistoryPath, cfg.HistoryLimit, logger),
		renderer: render.NewRenderer(renderConfig),
	}, nil
}

func (a *app) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		a.closers[index]()
	}
	_ = a.logger.Sync()
}

// resource maps a command-line example reference to its resource name. Unknown references are
// used as given so that comments on scenes missing locally stay reachable.
func (a *app) resource(reference string) string {
	if path, err := a.catalog.Resolve(reference); err == nil {
		return a.catalog.Name(path)
	}
	return filepath.ToSlash(reference)
}

// backend opens the configured comment store. A store that cannot be opened is logged and
// reported as nil so that the client runs in degraded mode.
func (a *app) backend() comments.Backend {
	if a.cfg.Standalone() {
		backend, err := a.openLocal()
		if err != nil {
			a.logger.Warn("local comment store unavailable", zap.String("database_path", a.cfg.DatabasePath), zap.Error(err))
			return nil
		}
		return backend
	}
	backend, err := remote.New(remote.Config{BaseURL: a.cfg.StoreURL, Logger: a.logger})
	if err != nil {
		a.logger.Warn("comment store unavailable", zap.String("store_url", a.cfg.StoreURL), zap.Error(err))
		return nil
	}
	return backend
}

func (a *app) openLocal() (*docstore.LocalBackend, error) {
	db, err := database.OpenSQLite(a.cfg.DatabasePath, a.logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = sqlDB.Close() })

	dispatcher := realtime.NewDispatcher()
	service, err := docstore.NewService(docstore.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: docstore.NewUUIDProvider(),
		Publisher:  dispatcher,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	return docstore.NewLocalBackend(service, dispatcher, a.logger)
}

func (a *app) alerter() notify.Alerter {
	if a.cfg.Notify.Desktop {
		return notify.MultiAlerter{notify.NewDesktopAlerter(a.logger), notify.NewLogAlerter(a.logger)}
	}
	return notify.NewLogAlerter(a.logger)
}

// openSession builds a session over the configured store and selects resource. A store failure
// leaves an offline session and a non-nil error describing it.
func (a *app) openSession(ctx context.Context, resource string) (*session.Session, error) {
	var client *comments.Client
	if backend := a.backend(); backend != nil {
		client = comments.NewClient(comments.ClientConfig{Backend: backend, Logger: a.logger})
	} else {
		client = comments.NewClient(comments.ClientConfig{Logger: a.logger})
	}

	current, err := session.New(session.Config{
		User:     a.cfg.UserName,
		Client:   client,
		Listener: comments.NewListener(comments.ListenerConfig{Client: client, Logger: a.logger}),
		Coordinator: notify.NewCoordinator(notify.CoordinatorConfig{
			Alerter:       a.alerter(),
			Enabled:       a.cfg.Notify.Enabled,
			PreviewLength: a.cfg.Notify.PreviewLength,
			AppName:       a.cfg.Notify.AppName,
			Timeout:       a.cfg.Notify.Timeout,
			Logger:        a.logger,
		}),
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, current.Close)

	if err := current.SelectResource(ctx, resource); err != nil {
		return current, err
	}
	return current, nil
}

// lookup resolves a short id reference against the session snapshot.
func lookup(current *session.Session, reference string) (string, error) {
	commentID, ok := render.ResolveID(current.Snapshot(), reference)
	if !ok {
		return "", fmt.Errorf("%w: no single comment matches %q", comments.ErrNotFound, reference)
	}
	return commentID, nil
}

func offline(err error) bool {
	return errors.Is(err, comments.ErrBackendUnavailable)
}
