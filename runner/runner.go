// Package runner orchestrates a suite run: load and validate the suite,
// execute each scenario, evaluate expectations, and emit reports.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotbot-ai/scenario-engine/engine"
	"github.com/dotbot-ai/scenario-engine/evaluator"
	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/dotbot-ai/scenario-engine/replay"
	"github.com/dotbot-ai/scenario-engine/report"
	"github.com/dotbot-ai/scenario-engine/templates"
)

// Options configures one suite run. Chain, signers, and balance overrides
// are host-injected; in replay mode they may all be nil.
type Options struct {
	SuitePath      string
	TranscriptPath string
	OutputDir      string

	Chain    engine.ChainClient
	AltChain engine.ChainClient
	Signers  engine.SignerResolver
	Balance  engine.BalanceFunc
	Registry *evaluator.CheckRegistry
	Sink     engine.EventSink
}

// Run executes every scenario in the suite and returns the aggregate
// report. A scenario that fails evaluation does not abort the suite; the
// only fatal conditions are load and validation errors.
func Run(ctx context.Context, opts Options) (*report.SuiteReport, error) {
	log := logger.ForSubsystem(logger.SubsystemEngine)

	suite, err := model.ParseSuiteFile(opts.SuitePath)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateSuite(suite); err != nil {
		return nil, fmt.Errorf("suite validation failed: %w", err)
	}

	templates.NewTemplateEngine()

	var transcript *replay.Transcript
	if opts.TranscriptPath != "" {
		transcript, err = replay.LoadTranscript(opts.TranscriptPath)
		if err != nil {
			return nil, err
		}
	}

	chain := opts.Chain
	if chain != nil && engine.HasRateLimiting(suite.Settings.RateLimit) {
		interval, _ := time.ParseDuration(suite.Settings.RateLimit)
		chain = engine.NewRateLimitedChain(chain, interval, suite.Settings.MaxRetries)
		log.Info("Chain submissions rate limited", "interval", interval, "max_retries", suite.Settings.MaxRetries)
	}

	registry := opts.Registry
	if registry == nil {
		registry = evaluator.NewCheckRegistry()
	}

	delay := engine.ParseDelay(suite.Settings.StepDelay)
	results := make([]*model.EvaluationResult, 0, len(suite.Scenarios))

	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		if ctx.Err() != nil {
			break
		}

		res, err := runScenario(ctx, sc, suite, chain, transcript, registry, opts)
		if err != nil {
			log.Error("Scenario run failed", "scenario", sc.ID, "error", err)
			results = append(results, &model.EvaluationResult{
				ScenarioID:   sc.ID,
				ScenarioName: sc.Name,
				Passed:       false,
				Summary:      fmt.Sprintf("Scenario '%s' did not run: %v", sc.Name, err),
			})
			continue
		}
		results = append(results, res)

		if delay > 0 && i < len(suite.Scenarios)-1 {
			time.Sleep(delay)
		}
	}

	return report.Build(suite.Name, suite.Scenarios, results), nil
}

func runScenario(ctx context.Context, sc *model.Scenario, suite *model.ScenarioSuite,
	chain engine.ChainClient, transcript *replay.Transcript,
	registry *evaluator.CheckRegistry, opts Options) (*model.EvaluationResult, error) {

	sink := opts.Sink
	if sink == nil {
		sink = loggingSink()
	}

	var host *replay.Host
	if transcript != nil {
		host = replay.NewHost(transcript, sink)
		sink = host
	}

	network := pickNetwork(sc, suite)
	execOpts := []engine.ExecOption{
		engine.WithSink(sink),
		engine.WithNetwork(network),
		engine.WithCheckRegistry(registry),
	}
	if opts.AltChain != nil {
		execOpts = append(execOpts, engine.WithAltChain(opts.AltChain))
	}
	if opts.Balance != nil {
		execOpts = append(execOpts, engine.WithBalanceFunc(opts.Balance))
	}

	x := engine.NewStepExecutor(chain, opts.Signers, execOpts...)
	if host != nil {
		host.Bind(x)
	}

	ec, err := x.Run(ctx, sc)
	if err != nil {
		return nil, err
	}

	ev := evaluator.New(
		evaluator.WithResolver(x.ResolveEntity),
		evaluator.WithRegistry(registry),
	)
	return ev.GenerateReport(sc, ec.Outcomes, suite.Settings.StrictScore), nil
}

func pickNetwork(sc *model.Scenario, suite *model.ScenarioSuite) engine.Network {
	name := suite.Settings.Network
	if sc.Setup != nil && sc.Setup.Network != "" {
		name = sc.Setup.Network
	}
	if n, ok := engine.Networks[name]; ok {
		return n
	}
	return engine.DefaultNetwork
}

// loggingSink relays executor events into the structured log.
func loggingSink() engine.EventSink {
	log := logger.ForSubsystem(logger.SubsystemEngine)
	return engine.SinkFunc(func(e engine.Event) {
		switch e.Level {
		case slog.LevelDebug:
			log.Debug(e.Message, "kind", e.Kind, "scenario", e.ScenarioID, "step", e.StepIndex)
		case slog.LevelWarn:
			log.Warn(e.Message, "kind", e.Kind, "scenario", e.ScenarioID, "step", e.StepIndex)
		case slog.LevelError:
			log.Error(e.Message, "kind", e.Kind, "scenario", e.ScenarioID, "step", e.StepIndex)
		default:
			log.Info(e.Message, "kind", e.Kind, "scenario", e.ScenarioID, "step", e.StepIndex)
		}
	})
}
