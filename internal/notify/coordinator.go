package notify

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"go.uber.org/zap"
)

const (
	// DefaultPreviewLength is the number of body runes an alert shows before truncating.
	DefaultPreviewLength = 100
	// DefaultAppName labels alerts raised by the client.
	DefaultAppName = "SOFA Notes"
	// DefaultTimeout is how long an alert stays on screen.
	DefaultTimeout = 10 * time.Second

	previewEllipsis = "..."
)

// Alert is a transient desktop notification.
type Alert struct {
	Title   string
	Message string
	AppName string
	Timeout time.Duration
}

// Alerter displays alerts. Delivery is fire-and-forget.
type Alerter interface {
	Alert(alert Alert)
}

// CoordinatorConfig describes the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Alerter       Alerter
	Enabled       bool
	PreviewLength int
	AppName       string
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Coordinator owns the unread counter and decides which events raise an alert.
// It is not safe for concurrent use.
type Coordinator struct {
	alerter       Alerter
	enabled       bool
	unread        int
	previewLength int
	appName       string
	timeout       time.Duration
	logger        *zap.Logger
}

// NewCoordinator constructs a Coordinator with an empty unread counter.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	previewLength := cfg.PreviewLength
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	appName := cfg.AppName
	if appName == "" {
		appName = DefaultAppName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		alerter:       cfg.Alerter,
		enabled:       cfg.Enabled,
		previewLength: previewLength,
		appName:       appName,
		timeout:       timeout,
		logger:        logger,
	}
}

// Handle reacts to a classified event for resource. Only new leaves count; it reports whether an alert was raised.
func (c *Coordinator) Handle(resource string, event comments.Event) bool {
	if event.Kind != comments.EventNewLeaf {
		return false
	}
	if !c.enabled {
		return false
	}
	c.unread++
	alert := Alert{
		Title:   fmt.Sprintf("New comment on %s", resource),
		Message: fmt.Sprintf("%s: %s", event.Comment.Author, Preview(event.Comment.Body, c.previewLength)),
		AppName: c.appName,
		Timeout: c.timeout,
	}
	if c.alerter != nil {
		c.alerter.Alert(alert)
	}
	c.logger.Debug("new comment alert",
		zap.String("resource", resource),
		zap.String("comment_id", event.Comment.ID),
		zap.Int("unread", c.unread))
	return true
}

// SetEnabled toggles alerts. Events missed while disabled are never replayed.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// Enabled reports whether alerts are on.
func (c *Coordinator) Enabled() bool {
	return c.enabled
}

// Unread returns the number of new comments since the last reset.
func (c *Coordinator) Unread() int {
	return c.unread
}

// MarkAllRead zeroes the unread counter. The enabled flag is kept.
func (c *Coordinator) MarkAllRead() {
	c.unread = 0
}

// Preview truncates body to limit runes, appending an ellipsis when anything was cut.
func Preview(body string, limit int) string {
	runes := []rune(body)
	if limit <= 0 || len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + previewEllipsis
}
