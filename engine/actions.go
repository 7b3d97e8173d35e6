package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dotbot-ai/scenario-engine/model"
)

// ============================================================================
// BACKGROUND ACTIONS
// ============================================================================

// Background action kinds are protocol operations performed directly by the
// engine on behalf of simulated co-signers, invisible to the prompt-driven
// "user" persona. User-facing kinds reuse the same suspension points as
// prompt steps.
const (
	ActionInputMessage      = "input-message"
	ActionWaitForResponse   = "wait-for-response"
	ActionSignAsParticipant = "sign-as-participant"
	ActionApproveMultisig   = "approve-multisig"
	ActionExecuteMultisig   = "execute-multisig"
	ActionFundAccount       = "fund-account"
	ActionSubmitExtrinsic   = "submit-extrinsic"
	ActionWaitBlocks        = "wait-blocks"
	ActionQueryState        = "query-on-chain-state"
)

const lastExtrinsicKey = "lastExtrinsic"

func (x *StepExecutor) runActionStep(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	switch step.Action {
	case ActionInputMessage:
		prompt, _ := step.Params["message"].(string)
		if prompt == "" {
			prompt = step.Prompt
		}
		return x.runPromptStep(ctx, ec, res, prompt)

	case ActionWaitForResponse:
		return x.awaitResponse(ec, res)

	case ActionSignAsParticipant, ActionApproveMultisig:
		return x.approveMultisig(ctx, ec, res, step)

	case ActionExecuteMultisig:
		return x.executeMultisig(ctx, ec, res, step)

	case ActionFundAccount:
		return x.fundAccount(ctx, ec, res, step)

	case ActionSubmitExtrinsic:
		return x.submitRaw(ctx, ec, res, step)

	case ActionWaitBlocks:
		return x.waitBlocks(ctx, res, step)

	case ActionQueryState:
		return x.queryState(ctx, ec, res, step)

	default:
		return fmt.Errorf("unknown action '%s'", step.Action)
	}
}

// clientFor picks the alternate chain handle when the action asks for it.
func (x *StepExecutor) clientFor(step model.ScenarioStep) (ChainClient, error) {
	useAlt, _ := step.Params["alt_chain"].(bool)
	if useAlt {
		if x.altChain == nil {
			return nil, fmt.Errorf("action requested alternate chain but none is configured")
		}
		return x.altChain, nil
	}
	if x.chain == nil {
		return nil, fmt.Errorf("no chain client configured")
	}
	return x.chain, nil
}

func (x *StepExecutor) signerFor(entity string) (Keypair, error) {
	if entity == "" {
		return nil, fmt.Errorf("action requires an acting entity")
	}
	if x.signers == nil {
		return nil, fmt.Errorf("no signer resolver configured")
	}
	kp, err := x.signers(entity)
	if err != nil {
		return nil, fmt.Errorf("no signer for entity '%s': %w", entity, err)
	}
	return kp, nil
}

// submitAndAwait signs, submits, waits for inclusion, and records the
// submission in the run's variable table for later assertions.
func (x *StepExecutor) submitAndAwait(ctx context.Context, ec *ExecutionContext, client ChainClient, ext Extrinsic, signer Keypair) (Submission, error) {
	height, err := client.BlockHeight(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("block height query failed: %w", err)
	}

	sub, err := client.Submit(ctx, ext, signer)
	if err != nil {
		return Submission{}, fmt.Errorf("submit %s.%s failed: %w", ext.Pallet, ext.Call, err)
	}

	if err := client.WaitForInclusion(ctx, sub.Hash, height); err != nil {
		return Submission{}, fmt.Errorf("%s.%s not included: %w", ext.Pallet, ext.Call, err)
	}

	x.mu.Lock()
	ec.Variables[lastExtrinsicKey] = ext
	ec.Variables["lastSubmissionHash"] = sub.Hash
	x.mu.Unlock()

	x.log.Debug("Extrinsic included", "pallet", ext.Pallet, "call", ext.Call, "hash", sub.Hash, "signer", signer.Address())
	return sub, nil
}

// ============================================================================
// MULTISIG ACTIONS
// ============================================================================

func (x *StepExecutor) approveMultisig(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}
	signer, err := x.signerFor(step.Entity)
	if err != nil {
		return err
	}

	callHash, _ := step.Params["call_hash"].(string)
	if callHash == "" {
		return fmt.Errorf("multisig approval requires params.call_hash")
	}

	ext := Extrinsic{
		Pallet: "multisig",
		Call:   "approve_as_multi",
		Args: map[string]any{
			"threshold":         paramInt(step.Params, "threshold", 2),
			"other_signatories": step.Params["other_signatories"],
			"maybe_timepoint":   timepointParam(step.Params),
			"call_hash":         callHash,
		},
	}

	sub, err := x.submitAndAwait(ctx, ec, client, ext, signer)
	if err != nil {
		return err
	}

	x.mu.Lock()
	ec.Variables["lastTimepoint"] = Timepoint{Height: sub.Block, Index: 0}
	x.mu.Unlock()

	res.Success = true
	return nil
}

func (x *StepExecutor) executeMultisig(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}
	signer, err := x.signerFor(step.Entity)
	if err != nil {
		return err
	}

	call, _ := step.Params["call"].(string)
	if call == "" {
		return fmt.Errorf("multisig execution requires params.call")
	}

	tp := timepointParam(step.Params)
	if tp == nil {
		x.mu.Lock()
		if prior, ok := ec.Variables["lastTimepoint"].(Timepoint); ok {
			tp = &prior
		}
		x.mu.Unlock()
	}

	ext := Extrinsic{
		Pallet: "multisig",
		Call:   "as_multi",
		Args: map[string]any{
			"threshold":         paramInt(step.Params, "threshold", 2),
			"other_signatories": step.Params["other_signatories"],
			"maybe_timepoint":   tp,
			"call":              call,
		},
	}

	if _, err := x.submitAndAwait(ctx, ec, client, ext, signer); err != nil {
		return err
	}
	res.Success = true
	return nil
}

// ============================================================================
// TRANSFER AND RAW SUBMISSION
// ============================================================================

func (x *StepExecutor) fundAccount(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}
	signer, err := x.signerFor(step.Entity)
	if err != nil {
		return err
	}

	target, _ := step.Params["target"].(string)
	if target == "" {
		return fmt.Errorf("fund-account requires params.target")
	}
	if addr, ok := x.ResolveEntity(target); ok {
		target = addr
	}

	amount, err := paramAmount(step.Params, "amount")
	if err != nil {
		return err
	}

	ext := Extrinsic{
		Pallet: "balances",
		Call:   "transfer_keep_alive",
		Args: map[string]any{
			"dest":  target,
			"value": x.network.ToPlanck(amount),
		},
	}

	if _, err := x.submitAndAwait(ctx, ec, client, ext, signer); err != nil {
		return err
	}
	res.Success = true
	return nil
}

func (x *StepExecutor) submitRaw(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}
	signer, err := x.signerFor(step.Entity)
	if err != nil {
		return err
	}

	pallet, _ := step.Params["pallet"].(string)
	call, _ := step.Params["call"].(string)
	if pallet == "" || call == "" {
		return fmt.Errorf("submit-extrinsic requires params.pallet and params.call")
	}

	args, _ := step.Params["args"].(map[string]any)
	ext := Extrinsic{Pallet: pallet, Call: call, Args: args}

	if _, err := x.submitAndAwait(ctx, ec, client, ext, signer); err != nil {
		return err
	}
	res.Success = true
	return nil
}

// ============================================================================
// CHAIN OBSERVATION
// ============================================================================

// waitBlocks polls block height until the requested number of new blocks
// has been produced, or the run is stopped.
func (x *StepExecutor) waitBlocks(ctx context.Context, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}

	count := uint64(paramInt(step.Params, "count", 1))
	start, err := client.BlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("block height query failed: %w", err)
	}

	for {
		if x.isStopped() {
			return fmt.Errorf("%w: waiting for %d blocks", ErrInterrupted, count)
		}
		height, err := client.BlockHeight(ctx)
		if err != nil {
			return fmt.Errorf("block height query failed: %w", err)
		}
		if height >= start+count {
			res.Success = true
			return nil
		}
		time.Sleep(PausePollInterval)
	}
}

func (x *StepExecutor) queryState(ctx context.Context, ec *ExecutionContext, res *model.StepResult, step model.ScenarioStep) error {
	client, err := x.clientFor(step)
	if err != nil {
		return err
	}

	pallet, _ := step.Params["pallet"].(string)
	storage, _ := step.Params["storage"].(string)
	if pallet == "" || storage == "" {
		return fmt.Errorf("query-on-chain-state requires params.pallet and params.storage")
	}

	args, _ := step.Params["args"].([]any)
	for i, a := range args {
		if s, ok := a.(string); ok {
			if addr, found := x.ResolveEntity(s); found {
				args[i] = addr
			}
		}
	}

	value, err := client.QueryState(ctx, pallet, storage, args)
	if err != nil {
		return fmt.Errorf("state query %s.%s failed: %w", pallet, storage, err)
	}

	into, _ := step.Params["into"].(string)
	if into == "" {
		into = "lastQueryResult"
	}
	x.mu.Lock()
	ec.Variables[into] = value
	x.mu.Unlock()

	res.Success = true
	return nil
}

// ============================================================================
// PARAM HELPERS
// ============================================================================

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func paramAmount(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("params.%s '%s' is not numeric", key, v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("params.%s is required and must be numeric", key)
}

func timepointParam(params map[string]any) *Timepoint {
	raw, ok := params["timepoint"].(map[string]any)
	if !ok {
		return nil
	}
	return &Timepoint{
		Height: uint64(paramInt(raw, "height", 0)),
		Index:  uint32(paramInt(raw, "index", 0)),
	}
}
