package progress

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskforge/internal/eventbus"
	logx "taskforge/pkg/logx"
)

var ErrEmptyTaskID = errors.New("task id is empty")

// Notifier fans progress events out to pattern-matched subscribers.
//
// Delivery is synchronous and in subscription order; a slow callback delays
// the ones behind it, which keeps per-task event order trivially correct.
type Notifier struct {
	log logx.Logger
	bus eventbus.Bus

	now func() time.Time
}

func NewNotifier(log logx.Logger, bus eventbus.Bus) *Notifier {
	return &Notifier{log: log, bus: bus, now: time.Now}
}

// Emit enriches the event and delivers it to every subscription in tbl whose
// pattern matches taskID and whose filter admits it.
//
// Callback errors are logged and contained unless the subscription set
// FailOnError, in which case delivery stops and the error is returned
// wrapped. The event is also mirrored onto the bus as "progress.<status>".
func (n *Notifier) Emit(tbl *Table, taskID string, ev Event) error {
	if strings.TrimSpace(taskID) == "" {
		return ErrEmptyTaskID
	}

	ev.TaskID = taskID
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now()
	}
	if ev.Status == "" {
		ev.Status = StatusProgress
	}

	if n.bus != nil {
		n.bus.Publish(eventbus.Event{
			Type: "progress." + string(ev.Status),
			Time: ev.Timestamp,
			Data: ev,
		})
	}

	if tbl == nil {
		return nil
	}
	for _, sub := range tbl.matching(taskID) {
		if !sub.opts.Filter.accepts(ev) {
			continue
		}
		if err := sub.cb(ev); err != nil {
			if sub.opts.FailOnError {
				return fmt.Errorf("progress subscriber %q: %w", sub.pattern, err)
			}
			n.log.Warn("progress subscriber failed",
				logx.String("task", taskID),
				logx.String("pattern", sub.pattern),
				logx.String("status", string(ev.Status)),
				logx.Err(err))
		}
	}
	return nil
}
