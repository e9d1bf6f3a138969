package notifier

import (
	"context"

	logx "alarmd/pkg/logx"
)

// Console writes alerts to the structured log. Always configured: even with
// no push/telegram transport, a fired alarm must leave a visible trace.
type Console struct {
	log logx.Logger
}

func NewConsole(log logx.Logger) *Console {
	return &Console{log: log}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, a Alert) error {
	c.log.Warn("ALERT",
		logx.String("title", a.Title),
		logx.String("body", a.Body),
		logx.Any("actions", a.Actions),
	)
	return nil
}
