package notify

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// DesktopAlerter raises OS notifications. beeep has no per-alert timeout; the platform default applies.
type DesktopAlerter struct {
	logger *zap.Logger
	notify func(title, message string) error
}

// NewDesktopAlerter constructs an alerter backed by the OS notification facility.
func NewDesktopAlerter(logger *zap.Logger) *DesktopAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DesktopAlerter{
		logger: logger,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Alert shows the notification; failures are logged and otherwise ignored.
func (a *DesktopAlerter) Alert(alert Alert) {
	title := alert.Title
	if alert.AppName != "" {
		title = alert.AppName + ": " + title
	}
	if err := a.notify(title, alert.Message); err != nil {
		a.logger.Warn("desktop notification failed", zap.String("title", alert.Title), zap.Error(err))
	}
}

// LogAlerter writes alerts to the structured log; used when no desktop session is available.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter constructs a LogAlerter.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerter{logger: logger}
}

// Alert logs the notification at info level.
func (a *LogAlerter) Alert(alert Alert) {
	a.logger.Info(alert.Title,
		zap.String("app", alert.AppName),
		zap.String("message", alert.Message),
		zap.Duration("timeout", alert.Timeout))
}

// MultiAlerter fans an alert out to several alerters.
type MultiAlerter []Alerter

// Alert forwards to every non-nil alerter.
func (m MultiAlerter) Alert(alert Alert) {
	for _, alerter := range m {
		if alerter != nil {
			alerter.Alert(alert)
		}
	}
}
