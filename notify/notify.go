package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

const (
	KindStatus = "status"
	KindAlert  = "alert"
)

// Message is the wire form of a notification for remote sinks.
type Message struct {
	Kind   string    `json:"kind"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Device string    `json:"device,omitempty"`
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) PostStatus(ctx context.Context, text string) error {
	s.log.Info(text, slog.String("kind", KindStatus))
	return nil
}

func (s *LogSink) PostAlert(ctx context.Context, text string) error {
	s.log.Warn(text, slog.String("kind", KindAlert))
	return nil
}

// MultiSink delivers every notification to all of its sinks. A failing sink does
// not stop delivery to the others; their errors are joined.
type MultiSink struct {
	sinks []interfaces.NotificationSink
}

// NewMultiSink fans out to sinks. It returns the only sink unchanged when given one.
func NewMultiSink(sinks ...interfaces.NotificationSink) interfaces.NotificationSink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) PostStatus(ctx context.Context, text string) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.PostStatus(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) PostAlert(ctx context.Context, text string) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.PostAlert(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
