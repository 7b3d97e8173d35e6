package engine

import (
	"log/slog"
	"time"
)

// ============================================================================
// EXECUTOR EVENTS
// ============================================================================

type EventKind string

const (
	EventScenarioStarted   EventKind = "scenario-started"
	EventScenarioCompleted EventKind = "scenario-completed"
	EventScenarioStopped   EventKind = "scenario-stopped"
	EventStepStarted       EventKind = "step-started"
	EventStepCompleted     EventKind = "step-completed"
	EventInjectPrompt      EventKind = "inject-prompt"
	EventActivity          EventKind = "activity"
	EventLog               EventKind = "log"
	EventError             EventKind = "error"
)

// Event is one notification from the step executor to its observer. For
// inject-prompt events, Prompt carries the literal text to submit to the
// driven surface.
type Event struct {
	Kind       EventKind  `json:"kind"`
	ScenarioID string     `json:"scenarioId"`
	StepIndex  int        `json:"stepIndex"`
	Level      slog.Level `json:"level"`
	Message    string     `json:"message,omitempty"`
	Prompt     string     `json:"prompt,omitempty"`
	Time       time.Time  `json:"time"`
}

// EventSink receives executor events. The host chooses buffering and
// fan-out semantics; Handle must not block for long.
type EventSink interface {
	Handle(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Handle(Event) {}
