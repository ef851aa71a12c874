package ops

import "go.uber.org/zap"

// Notifier surfaces routine, user-facing rejections: read-only mode,
// advisory locks, invalid targets. These are expected races in a
// multi-user editor, so they are warnings, never errors.
type Notifier interface {
	Warn(message string)
}

// LogNotifier routes warnings to the structured log, for headless
// deployments and tests that do not attach a UI channel.
type LogNotifier struct {
	Logger *zap.Logger
}

// Warn implements Notifier.
func (n LogNotifier) Warn(message string) {
	n.Logger.Warn("editor warning", zap.String("message", message))
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string)

// Warn implements Notifier.
func (f NotifierFunc) Warn(message string) { f(message) }
