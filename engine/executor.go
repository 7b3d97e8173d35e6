// Package engine runs scenario steps against an injected chain-protocol
// handle while mediating a request/response protocol with the external
// surface that drives the real assistant UI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dotbot-ai/scenario-engine/evaluator"
	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
)

const (
	// PausePollInterval is how often the run loop re-checks the pause and
	// stop flags while suspended between steps.
	PausePollInterval = 100 * time.Millisecond

	DefaultStepDelay = 0 * time.Second

	// lateResponseGrace is how long a cancelled response wait keeps
	// checking for a reply that was already in flight.
	lateResponseGrace = 250 * time.Millisecond
)

// ErrInterrupted is the distinguished cancellation signal: a step whose
// external wait was cancelled reports it instead of an ordinary error.
var ErrInterrupted = errors.New("scenario run interrupted")

type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateStopped   RunState = "stopped"
)

// StepExecutor runs one scenario at a time, strictly sequentially: at most
// one step in flight, at most one outstanding external-callback wait.
type StepExecutor struct {
	chain    ChainClient
	altChain ChainClient
	signers  SignerResolver
	entities map[string]string
	selfAddr func(ctx context.Context) (string, error)
	balance  BalanceFunc
	registry *evaluator.CheckRegistry
	sink     EventSink
	network  Network
	log      *slog.Logger

	mu               sync.Mutex
	state            RunState
	paused           bool
	stopped          bool
	pendingProcessed chan struct{}
	pendingResponse  chan *model.AgentResponse
	run              *ExecutionContext
}

type ExecOption func(*StepExecutor)

// WithAltChain provides a second protocol handle for an alternate chain.
func WithAltChain(c ChainClient) ExecOption {
	return func(x *StepExecutor) { x.altChain = c }
}

// WithEntities replaces the entity name to address table. Defaults to the
// well-known dev accounts.
func WithEntities(entities map[string]string) ExecOption {
	return func(x *StepExecutor) { x.entities = entities }
}

// WithSelfAddress provides the address query for the named "self" wallet.
func WithSelfAddress(fn func(ctx context.Context) (string, error)) ExecOption {
	return func(x *StepExecutor) { x.selfAddr = fn }
}

// WithBalanceFunc installs a direct balance-query override used instead of
// the chain handle, for environments without a live protocol connection.
func WithBalanceFunc(fn BalanceFunc) ExecOption {
	return func(x *StepExecutor) { x.balance = fn }
}

func WithSink(sink EventSink) ExecOption {
	return func(x *StepExecutor) { x.sink = sink }
}

func WithNetwork(n Network) ExecOption {
	return func(x *StepExecutor) { x.network = n }
}

// WithCheckRegistry provides the custom check registry consulted by
// assertion steps of kind "custom".
func WithCheckRegistry(reg *evaluator.CheckRegistry) ExecOption {
	return func(x *StepExecutor) { x.registry = reg }
}

func NewStepExecutor(chain ChainClient, signers SignerResolver, opts ...ExecOption) *StepExecutor {
	x := &StepExecutor{
		chain:    chain,
		signers:  signers,
		entities: DevAddresses,
		registry: evaluator.NewCheckRegistry(),
		sink:     NopSink{},
		network:  DefaultNetwork,
		state:    StateIdle,
		log:      logger.ForSubsystem(logger.SubsystemEngine),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// ResolveEntity maps an entity name to its address, case-insensitively.
func (x *StepExecutor) ResolveEntity(name string) (string, bool) {
	if addr, ok := x.entities[name]; ok {
		return addr, ok
	}
	return ResolveDevAddress(name)
}

func (x *StepExecutor) State() RunState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// ============================================================================
// RUN LOOP
// ============================================================================

// Run executes the scenario's steps in strict order. Step errors are
// captured into the step's outcome and the run continues; only Stop ends a
// run early. The returned context holds all outcomes produced.
func (x *StepExecutor) Run(ctx context.Context, sc *model.Scenario) (*ExecutionContext, error) {
	x.mu.Lock()
	if x.state == StateRunning || x.state == StatePaused {
		x.mu.Unlock()
		return nil, fmt.Errorf("a scenario run is already in flight")
	}
	ec := NewExecutionContext(sc)
	x.run = ec
	x.stopped = false
	x.state = StateRunning
	x.mu.Unlock()

	x.log.Info("Scenario run started", "scenario", sc.ID, "run_id", ec.RunID, "steps", len(sc.Steps))
	x.emit(Event{Kind: EventScenarioStarted, ScenarioID: sc.ID, StepIndex: -1, Level: slog.LevelInfo,
		Message: fmt.Sprintf("starting scenario '%s' (%d steps)", sc.Name, len(sc.Steps))})

	for i := range sc.Steps {
		if x.isStopped() {
			break
		}
		x.waitWhilePaused()
		if x.isStopped() {
			break
		}

		step := sc.Steps[i]
		if step.PreDelay != "" {
			x.sleepInterruptible(ParseDelay(step.PreDelay))
		}

		x.emit(Event{Kind: EventStepStarted, ScenarioID: sc.ID, StepIndex: i, Level: slog.LevelDebug,
			Message: fmt.Sprintf("step %d (%s)", i, step.Type)})

		outcome := x.executeStep(ctx, ec, i, step)

		x.mu.Lock()
		ec.Outcomes = append(ec.Outcomes, outcome)
		x.mu.Unlock()

		x.emit(Event{Kind: EventStepCompleted, ScenarioID: sc.ID, StepIndex: i, Level: slog.LevelDebug,
			Message: fmt.Sprintf("step %d success=%t duration=%dms", i, outcome.Success, outcome.DurationMs)})

		if step.PostDelay != "" && !x.isStopped() {
			x.sleepInterruptible(ParseDelay(step.PostDelay))
		}
	}

	x.mu.Lock()
	stopped := x.stopped
	if stopped {
		x.state = StateStopped
	} else {
		x.state = StateCompleted
	}
	x.mu.Unlock()

	if stopped {
		x.log.Warn("Scenario run stopped", "scenario", sc.ID, "outcomes", len(ec.Outcomes))
		x.emit(Event{Kind: EventScenarioStopped, ScenarioID: sc.ID, StepIndex: -1, Level: slog.LevelWarn,
			Message: "scenario stopped before completion"})
	} else {
		x.log.Info("Scenario run completed", "scenario", sc.ID, "outcomes", len(ec.Outcomes))
		x.emit(Event{Kind: EventScenarioCompleted, ScenarioID: sc.ID, StepIndex: -1, Level: slog.LevelInfo,
			Message: "scenario completed"})
	}

	return ec, nil
}

func (x *StepExecutor) executeStep(ctx context.Context, ec *ExecutionContext, index int, step model.ScenarioStep) model.StepResult {
	start := time.Now()
	res := model.StepResult{
		StepIndex: index,
		StepType:  step.Type,
		StartTime: start,
	}

	var err error
	switch step.Type {
	case model.StepPrompt:
		err = x.runPromptStep(ctx, ec, &res, step.Prompt)
	case model.StepAction:
		err = x.runActionStep(ctx, ec, &res, step)
	case model.StepWait:
		err = x.runWaitStep(&res, step.Wait)
	case model.StepAssertion:
		err = x.runAssertionStep(ctx, ec, &res, step.Assertion)
	default:
		err = fmt.Errorf("unknown step type '%s'", step.Type)
	}

	res.EndTime = time.Now()
	res.DurationMs = res.EndTime.Sub(res.StartTime).Milliseconds()

	if err != nil {
		res.Success = false
		if errors.Is(err, ErrInterrupted) {
			res.Error = fmt.Sprintf("step %d interrupted: %v", index, err)
			x.log.Warn("Step interrupted", "step", index, "type", step.Type)
		} else {
			res.Error = err.Error()
			x.log.Error("Step failed", "step", index, "type", step.Type, "error", err)
			x.emit(Event{Kind: EventError, ScenarioID: ec.Scenario.ID, StepIndex: index,
				Level: slog.LevelError, Message: err.Error()})
		}
	}

	return res
}

// ============================================================================
// PROMPT HANDLING
// ============================================================================

// runPromptStep renders the prompt, hands it to the external surface, and
// blocks at the two cooperative suspension points: "prompt processed" and
// "response received".
func (x *StepExecutor) runPromptStep(ctx context.Context, ec *ExecutionContext, res *model.StepResult, prompt string) error {
	text := x.renderPrompt(ctx, ec, prompt)

	x.mu.Lock()
	ec.CurrentPrompt = text
	x.mu.Unlock()

	procCh, err := x.armProcessedWait()
	if err != nil {
		return err
	}

	x.emit(Event{Kind: EventInjectPrompt, ScenarioID: ec.Scenario.ID, StepIndex: res.StepIndex,
		Level: slog.LevelInfo, Prompt: text, Message: "inject prompt"})

	<-procCh
	if x.isStopped() {
		return ErrInterrupted
	}

	return x.awaitResponse(ec, res)
}

// awaitResponse blocks on the "response received" suspension point and
// captures the payload into the step's outcome. When the wait is cancelled,
// a response that quietly arrived afterward is still honored.
func (x *StepExecutor) awaitResponse(ec *ExecutionContext, res *model.StepResult) error {
	respCh, err := x.armResponseWait()
	if err != nil {
		return err
	}

	x.emit(Event{Kind: EventActivity, ScenarioID: ec.Scenario.ID, StepIndex: res.StepIndex,
		Level: slog.LevelDebug, Message: "waiting for agent response"})

	resp, ok := <-respCh
	if !ok {
		// The wait was cancelled. A response already in flight may still
		// land in the variable table; grant it a short grace window.
		deadline := time.Now().Add(lateResponseGrace)
		for resp == nil && time.Now().Before(deadline) {
			if resp = x.takeLateResponse(ec); resp == nil {
				time.Sleep(20 * time.Millisecond)
			}
		}
		if resp == nil {
			return fmt.Errorf("%w: waiting for agent response", ErrInterrupted)
		}
		x.log.Debug("Recovered late response after cancellation", "step", res.StepIndex)
	}

	x.captureResponse(ec, res, resp)
	res.Success = true
	return nil
}

func (x *StepExecutor) captureResponse(ec *ExecutionContext, res *model.StepResult, resp *model.AgentResponse) {
	if resp.Type == "" {
		resp.Type = model.ClassifyResponse(resp.Text, resp.Plan)
	}
	if resp.Parsed == nil {
		resp.Parsed = model.ParseStructured(resp.Text)
	}

	res.Response = resp
	res.Plan = resp.Plan
	res.Stats = resp.Stats

	x.mu.Lock()
	ec.Variables["lastResponseText"] = resp.Text
	x.mu.Unlock()
}

// ============================================================================
// WAIT COORDINATION
// ============================================================================

// armProcessedWait creates the channel for the next "prompt processed"
// callback. At most one external wait may be outstanding.
func (x *StepExecutor) armProcessedWait() (<-chan struct{}, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return nil, ErrInterrupted
	}
	if x.pendingProcessed != nil || x.pendingResponse != nil {
		return nil, fmt.Errorf("another external wait is already outstanding")
	}
	ch := make(chan struct{})
	x.pendingProcessed = ch
	return ch, nil
}

func (x *StepExecutor) armResponseWait() (<-chan *model.AgentResponse, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return nil, ErrInterrupted
	}
	if x.pendingProcessed != nil || x.pendingResponse != nil {
		return nil, fmt.Errorf("another external wait is already outstanding")
	}
	ch := make(chan *model.AgentResponse, 1)
	// A reply delivered between the prompt callback and this arm was
	// stashed in the variable table. Hand it to the fresh wait so the
	// step resolves instead of blocking on a channel nobody will fill.
	if x.run != nil {
		if resp, ok := x.run.Variables[lateResponseKey].(*model.AgentResponse); ok {
			delete(x.run.Variables, lateResponseKey)
			ch <- resp
			close(ch)
			return ch, nil
		}
	}
	x.pendingResponse = ch
	return ch, nil
}

// NotifyPromptProcessed is the host callback signaling that the injected
// prompt has been submitted to the driven surface.
func (x *StepExecutor) NotifyPromptProcessed() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.pendingProcessed != nil {
		close(x.pendingProcessed)
		x.pendingProcessed = nil
	}
}

// NotifyResponse is the host callback delivering the driven surface's
// reply. When no wait is outstanding (e.g. after Stop cancelled it), the
// response is stored in the run's variable table so the interrupted step
// can still recover it.
func (x *StepExecutor) NotifyResponse(resp *model.AgentResponse) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.pendingResponse != nil {
		x.pendingResponse <- resp
		close(x.pendingResponse)
		x.pendingResponse = nil
		return
	}
	if x.run != nil {
		x.run.Variables[lateResponseKey] = resp
	}
}

func (x *StepExecutor) takeLateResponse(ec *ExecutionContext) *model.AgentResponse {
	x.mu.Lock()
	defer x.mu.Unlock()
	resp, ok := ec.Variables[lateResponseKey].(*model.AgentResponse)
	if !ok {
		return nil
	}
	delete(ec.Variables, lateResponseKey)
	return resp
}

// ============================================================================
// CONTROL OPERATIONS
// ============================================================================

// Pause suspends the run before the next step starts. The step in flight
// is not interrupted. Pausing before Run holds the first step.
func (x *StepExecutor) Pause() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return
	}
	x.paused = true
	if x.state == StateRunning {
		x.state = StatePaused
	}
}

func (x *StepExecutor) Resume() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.paused = false
	if x.state == StatePaused {
		x.state = StateRunning
	}
}

// Stop requests cooperative cancellation: it forces an unpause, resolves a
// pending "prompt processed" wait so the step can observe the stop flag,
// and rejects a pending "response received" wait with ErrInterrupted.
func (x *StepExecutor) Stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stopped = true
	x.paused = false
	if x.pendingProcessed != nil {
		close(x.pendingProcessed)
		x.pendingProcessed = nil
	}
	if x.pendingResponse != nil {
		close(x.pendingResponse)
		x.pendingResponse = nil
	}
}

func (x *StepExecutor) isStopped() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stopped
}

func (x *StepExecutor) waitWhilePaused() {
	for {
		x.mu.Lock()
		blocked := x.paused && !x.stopped
		x.mu.Unlock()
		if !blocked {
			return
		}
		time.Sleep(PausePollInterval)
	}
}

// sleepInterruptible sleeps in short slices so Stop takes effect promptly.
func (x *StepExecutor) sleepInterruptible(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if x.isStopped() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining > PausePollInterval {
			remaining = PausePollInterval
		}
		time.Sleep(remaining)
	}
	return true
}

// ============================================================================
// WAIT STEP
// ============================================================================

func (x *StepExecutor) runWaitStep(res *model.StepResult, wait string) error {
	d := ParseDelay(wait)
	if !x.sleepInterruptible(d) {
		return fmt.Errorf("%w: during %s wait", ErrInterrupted, d)
	}
	res.Success = true
	return nil
}

// ============================================================================
// SETTINGS HELPERS
// ============================================================================

func ParseDelay(delayStr string) time.Duration {
	if delayStr == "" {
		return DefaultStepDelay
	}

	dur, err := time.ParseDuration(delayStr)
	if err != nil {
		logger.ForSubsystem(logger.SubsystemEngine).Warn("Invalid delay, using default",
			"delay", delayStr,
			"default", DefaultStepDelay,
			"error", err)
		return DefaultStepDelay
	}

	if dur < 0 {
		logger.ForSubsystem(logger.SubsystemEngine).Warn("Negative delay, using 0", "delay", dur)
		return 0
	}

	return dur
}

func (x *StepExecutor) emit(e Event) {
	e.Time = time.Now()
	x.sink.Handle(e)
}
