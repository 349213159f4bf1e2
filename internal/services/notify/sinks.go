package notify

import (
	"context"

	logx "conductor/pkg/logx"
)

// LogSink writes notifications to the structured log. It is the default sink
// so deployments without a chat or webhook channel still surface results.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.log.Info("notification",
		logx.String("kind", n.Kind), logx.String("owner", n.Owner),
		logx.String("title", n.Title), logx.String("body", n.Body))
	return nil
}
