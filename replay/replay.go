// Package replay drives the executor from a recorded transcript, standing
// in for the live assistant surface. Each injected prompt is matched to a
// canned exchange and answered through the executor's callbacks.
package replay

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dotbot-ai/scenario-engine/engine"
	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
)

// Transcript is a recorded conversation: an ordered list of exchanges
// consumed as the scenario injects prompts.
type Transcript struct {
	Name      string     `yaml:"name"`
	Exchanges []Exchange `yaml:"exchanges"`
}

// Exchange pairs an optional prompt matcher with the canned reply. An
// exchange with no matcher answers whatever prompt comes next.
type Exchange struct {
	Match    string         `yaml:"match,omitempty"`
	Response CannedResponse `yaml:"response"`
}

type CannedResponse struct {
	Type string           `yaml:"type,omitempty"`
	Text string           `yaml:"text"`
	Plan []model.PlanStep `yaml:"plan,omitempty"`
}

func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	if len(t.Exchanges) == 0 {
		return nil, fmt.Errorf("transcript '%s' has no exchanges", path)
	}
	return &t, nil
}

// Host replays a transcript against a StepExecutor. It implements
// engine.EventSink: install it with engine.WithSink, then Run the scenario.
// Prompts with no matching exchange are answered with an empty text
// response so the run can proceed.
type Host struct {
	executor   *engine.StepExecutor
	transcript *Transcript
	next       engine.EventSink
	log        *slog.Logger

	mu       sync.Mutex
	consumed []bool
}

// NewHost wires a transcript to an executor. The forward sink may be nil;
// events are passed through to it after handling.
func NewHost(transcript *Transcript, forward engine.EventSink) *Host {
	if forward == nil {
		forward = engine.NopSink{}
	}
	return &Host{
		transcript: transcript,
		next:       forward,
		log:        logger.ForSubsystem(logger.SubsystemReplay),
		consumed:   make([]bool, len(transcript.Exchanges)),
	}
}

// Bind attaches the executor the host answers into. Must be called before
// the run starts.
func (h *Host) Bind(x *engine.StepExecutor) {
	h.executor = x
}

func (h *Host) Handle(e engine.Event) {
	if e.Kind == engine.EventInjectPrompt && h.executor != nil {
		// Callbacks must come from outside the run loop's goroutine, the
		// executor blocks until both arrive.
		go h.answer(e.Prompt)
	}
	h.next.Handle(e)
}

func (h *Host) answer(prompt string) {
	h.executor.NotifyPromptProcessed()

	canned, ok := h.takeExchange(prompt)
	if !ok {
		h.log.Warn("No transcript exchange for prompt, answering empty", "prompt", prompt)
		h.executor.NotifyResponse(&model.AgentResponse{Type: model.ResponseText, Text: ""})
		return
	}

	h.executor.NotifyResponse(&model.AgentResponse{
		Type: model.ResponseType(canned.Type),
		Text: canned.Text,
		Plan: canned.Plan,
	})
}

// takeExchange picks the first unconsumed exchange whose matcher is empty
// or a substring of the prompt, case-insensitively.
func (h *Host) takeExchange(prompt string) (CannedResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lower := strings.ToLower(prompt)
	for i, ex := range h.transcript.Exchanges {
		if h.consumed[i] {
			continue
		}
		if ex.Match != "" && !strings.Contains(lower, strings.ToLower(ex.Match)) {
			continue
		}
		h.consumed[i] = true
		return ex.Response, true
	}
	return CannedResponse{}, false
}

// Remaining reports how many exchanges were never consumed, for post-run
// transcript coverage checks.
func (h *Host) Remaining() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.consumed {
		if !c {
			n++
		}
	}
	return n
}
