package progress

// TaskEmitter binds a notifier, table and task id so call sites report
// lifecycle edges without re-threading identifiers.
type TaskEmitter struct {
	n      *Notifier
	tbl    *Table
	taskID string
}

// Emitter returns an emitter bound to one task id.
func (n *Notifier) Emitter(tbl *Table, taskID string) *TaskEmitter {
	return &TaskEmitter{n: n, tbl: tbl, taskID: taskID}
}

func (e *TaskEmitter) TaskID() string { return e.taskID }

func (e *TaskEmitter) Started(data map[string]any) error {
	return e.n.Emit(e.tbl, e.taskID, Event{Status: StatusStarted, Data: data})
}

// Progress reports a percentage in [0,100] with an optional message.
func (e *TaskEmitter) Progress(pct float64, msg string) error {
	return e.n.Emit(e.tbl, e.taskID, Event{Status: StatusProgress, Progress: pct, Message: msg})
}

func (e *TaskEmitter) Completed(result any) error {
	return e.n.Emit(e.tbl, e.taskID, Event{Status: StatusCompleted, Progress: 100, Result: result})
}

func (e *TaskEmitter) Failed(err error) error {
	ev := Event{Status: StatusFailed}
	if err != nil {
		ev.Error = err.Error()
	}
	return e.n.Emit(e.tbl, e.taskID, ev)
}

// Custom emits an application-defined event type with a free-form payload.
func (e *TaskEmitter) Custom(typ string, data map[string]any) error {
	return e.n.Emit(e.tbl, e.taskID, Event{Status: StatusCustom, CustomType: typ, Data: data})
}
