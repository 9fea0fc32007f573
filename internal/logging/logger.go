// Package logging provides structured logging shared by every layer of the
// stack (SHIP, SPINE, service shell). It wraps logrus rather than replacing
// it so callers keep the full Entry/Fields API.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through request-scoped logging.
type ContextKey string

const (
	// SKIKey is the context key for a peer's subject-key-identifier.
	SKIKey ContextKey = "ski"
	// LocalFeatureKey is the context key for a local feature address.
	LocalFeatureKey ContextKey = "local_feature"
	// RemoteFeatureKey is the context key for a remote feature address.
	RemoteFeatureKey ContextKey = "remote_feature"
	// MsgCounterKey is the context key for a SPINE msgCounter correlation id.
	MsgCounterKey ContextKey = "msg_counter"
)

// Logger wraps logrus.Logger, tagging every entry with the owning component.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance for the named component.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:    logger,
		component: component,
	}
}

// NewFromEnv constructs a logger using EEBUS_LOG_LEVEL and EEBUS_LOG_FORMAT.
// Defaults to "info" and "text" when unset, matching a CLI-friendly embedder.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("EEBUS_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("EEBUS_LOG_FORMAT"))
	if format == "" {
		format = "text"
	}
	return New(component, level, format)
}

// WithContext creates a new logger entry enriched with any SHIP/SPINE
// correlation values present on the context.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if ski := ctx.Value(SKIKey); ski != nil {
		entry = entry.WithField("ski", ski)
	}
	if lf := ctx.Value(LocalFeatureKey); lf != nil {
		entry = entry.WithField("local_feature", lf)
	}
	if rf := ctx.Value(RemoteFeatureKey); rf != nil {
		entry = entry.WithField("remote_feature", rf)
	}
	if mc := ctx.Value(MsgCounterKey); mc != nil {
		entry = entry.WithField("msg_counter", mc)
	}

	return entry
}

// WithSKI creates a new logger entry tagged with a peer SKI.
func (l *Logger) WithSKI(ski string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"ski":       ski,
	})
}

// WithFields creates a new logger entry with custom fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// Context helpers.

// WithSKIValue attaches a peer SKI to the context.
func WithSKIValue(ctx context.Context, ski string) context.Context {
	return context.WithValue(ctx, SKIKey, ski)
}

// GetSKIValue retrieves a peer SKI from the context.
func GetSKIValue(ctx context.Context) string {
	if ski, ok := ctx.Value(SKIKey).(string); ok {
		return ski
	}
	return ""
}

// WithMsgCounter attaches a msgCounter to the context.
func WithMsgCounter(ctx context.Context, counter uint64) context.Context {
	return context.WithValue(ctx, MsgCounterKey, counter)
}

// Domain-specific structured helpers, mirroring the shape of the teacher's
// LogServiceCall/LogSecurityEvent helpers but for SHIP/SPINE events.

// LogSMETransition logs a SHIP connection state transition.
func (l *Logger) LogSMETransition(ski, from, to string) {
	l.WithSKI(ski).WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Info("ship sme transition")
}

// LogFrame logs an inbound or outbound SPINE frame at debug level.
func (l *Logger) LogFrame(ctx context.Context, direction, classifier string, msgCounter uint64) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"direction":  direction,
		"classifier": classifier,
		"msg_counter": msgCounter,
	}).Debug("spine frame")
}

// LogDispatchError logs a dispatcher-level protocol error.
func (l *Logger) LogDispatchError(ctx context.Context, reason string, err error) {
	entry := l.WithContext(ctx).WithField("reason", reason)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Warn("dispatch error")
}

// Global default logger, used by packages with no constructor-injected logger.
var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the default logger, constructing a fallback if unset.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("eebus-core", "info", "text")
	}
	return defaultLogger
}
