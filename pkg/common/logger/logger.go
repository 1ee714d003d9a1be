package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

// Init configures the global logger for the named service. LOG_LEVEL selects
// the level and defaults to info.
func Init(service string) {
	InitWithOutput(service, os.Stdout)
}

func InitWithOutput(service string, out io.Writer) {
	Log = logrus.New()
	Log.SetOutput(out)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)

	if service != "" {
		Log.AddHook(serviceHook{service: service})
	}
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}

type contextKey string

const requestIDKey contextKey = "request_id"

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns an entry tagged with the request id carried by ctx.
func FromContext(ctx context.Context) *logrus.Entry {
	if id := RequestID(ctx); id != "" {
		return Log.WithField("request_id", id)
	}
	return logrus.NewEntry(Log)
}
