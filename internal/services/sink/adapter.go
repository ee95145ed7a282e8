package sink

import (
	"context"

	logx "taskforge/pkg/logx"
)

// LogAdapter writes deliveries to the structured log. Useful as a default
// destination and in tests.
type LogAdapter struct {
	Log logx.Logger
}

func (a LogAdapter) Deliver(ctx context.Context, d Delivery) error {
	_ = ctx
	a.Log.Info("event",
		logx.String("type", d.Type),
		logx.Time("at", d.At),
		logx.Any("payload", d.Payload))
	return nil
}
