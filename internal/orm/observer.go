package orm

import (
	"context"
	"log/slog"
)

// EventKind names a decision point of the engine.
type EventKind string

const (
	EventPrepare    EventKind = "prepare"
	EventWait       EventKind = "wait"
	EventDefer      EventKind = "defer"
	EventResolve    EventKind = "resolve"
	EventCommand    EventKind = "command"
	EventUnresolved EventKind = "unresolved"
	EventRollback   EventKind = "rollback"
	EventCommit     EventKind = "commit"
)

// Event is emitted at every decision point of a run.
type Event struct {
	Kind        EventKind
	TxID        string
	Role        string
	Relation    string
	Task        Task
	CommandKind string
	Command     string
	Passes      int
}

// Observer receives engine events. Observe is called synchronously from the
// run; implementations must not call back into the transaction.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Observers fans one event out to several observers.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		obs.Observe(ev)
	}
}

// logEvent writes ev at debug level. Attributes are only built when the
// handler accepts debug records.
func logEvent(ctx context.Context, logger *slog.Logger, ev Event) {
	level := slog.LevelDebug
	switch ev.Kind {
	case EventCommit:
		level = slog.LevelInfo
	case EventRollback, EventUnresolved:
		level = slog.LevelWarn
	}
	if !logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs, slog.String("tx", ev.TxID))
	if ev.Role != "" {
		attrs = append(attrs, slog.String("role", ev.Role))
	}
	if ev.Relation != "" {
		attrs = append(attrs, slog.String("relation", ev.Relation))
	}
	if ev.Task != 0 {
		attrs = append(attrs, slog.String("task", ev.Task.String()))
	}
	if ev.Command != "" {
		attrs = append(attrs, slog.String("command", ev.Command))
	}
	if ev.Passes != 0 {
		attrs = append(attrs, slog.Int("passes", ev.Passes))
	}
	logger.LogAttrs(ctx, level, string(ev.Kind), attrs...)
}
