package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"
)

// ============================================================================
// RUNTIME CALCULATIONS
// ============================================================================

// calcPattern matches {{calc:functionName(arg1, arg2, ...)}} embedded in
// prompt text. Handlebars cannot parse the calc form, so these are resolved
// before template rendering.
var calcPattern = regexp.MustCompile(`\{\{calc:([a-zA-Z]+)\(([^)]*)\)\}\}`)

// feeBuffer is the display-unit headroom safeTransferAmount reserves for
// transaction fees on top of the existential deposit.
const feeBuffer = 0.01

// renderPrompt substitutes runtime calculations, context variables, and
// entity addresses into a prompt template. Substitution failures never
// abort the step; unresolved placeholders stay in the text verbatim.
func (x *StepExecutor) renderPrompt(ctx context.Context, ec *ExecutionContext, prompt string) string {
	text := x.substituteCalcs(ctx, ec, prompt)
	text = x.substituteVariables(ec, text)
	return x.substituteEntityNames(text)
}

// substituteCalcs evaluates each {{calc:...}} occurrence left-to-right.
// Identical occurrences are computed once and replaced consistently.
func (x *StepExecutor) substituteCalcs(ctx context.Context, ec *ExecutionContext, text string) string {
	matches := calcPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	cache := make(map[string]string)
	for _, m := range matches {
		whole, fn, rawArgs := m[0], m[1], m[2]
		if _, done := cache[whole]; done {
			continue
		}

		args := splitCalcArgs(rawArgs)
		for i, a := range args {
			args[i] = x.resolveCalcArg(ec, a)
		}

		value, err := x.evaluateCalc(ctx, fn, args)
		if err != nil {
			x.log.Warn("Calculation failed, leaving placeholder",
				"function", fn, "args", rawArgs, "error", err)
			continue
		}
		cache[whole] = formatAmount(value)
	}

	for placeholder, value := range cache {
		text = strings.ReplaceAll(text, placeholder, value)
	}
	return text
}

func splitCalcArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// resolveCalcArg substitutes a {{name}} argument from the run's variable
// table; bare arguments pass through unchanged.
func (x *StepExecutor) resolveCalcArg(ec *ExecutionContext, arg string) string {
	name := strings.TrimSpace(arg)
	if strings.HasPrefix(name, "{{") && strings.HasSuffix(name, "}}") {
		name = strings.TrimSpace(name[2 : len(name)-2])
	} else {
		return arg
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if v, ok := ec.Variables[name]; ok {
		return fmt.Sprint(v)
	}
	return arg
}

func (x *StepExecutor) evaluateCalc(ctx context.Context, fn string, args []string) (float64, error) {
	switch fn {
	case "currentBalance":
		if len(args) < 1 {
			return 0, fmt.Errorf("currentBalance requires an entity argument")
		}
		return x.queryBalance(ctx, args[0])

	case "insufficientBalance":
		if len(args) < 1 {
			return 0, fmt.Errorf("insufficientBalance requires an entity argument")
		}
		bal, err := x.queryBalance(ctx, args[0])
		if err != nil {
			return 0, err
		}
		// Any amount strictly above the full balance cannot be afforded.
		return bal + 1, nil

	case "balanceMinusAmount":
		return x.balanceArith(ctx, args, -1)

	case "balancePlusAmount":
		return x.balanceArith(ctx, args, +1)

	case "safeTransferAmount":
		if len(args) < 1 {
			return 0, fmt.Errorf("safeTransferAmount requires an entity argument")
		}
		bal, err := x.queryBalance(ctx, args[0])
		if err != nil {
			return 0, err
		}
		safe := bal - x.network.ExistentialDeposit - feeBuffer
		if safe < 0 {
			safe = 0
		}
		return safe, nil

	default:
		return 0, fmt.Errorf("unknown calculation '%s'", fn)
	}
}

func (x *StepExecutor) balanceArith(ctx context.Context, args []string, sign float64) (float64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("calculation requires entity and amount arguments")
	}
	bal, err := x.queryBalance(ctx, args[0])
	if err != nil {
		return 0, err
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, fmt.Errorf("amount '%s' is not numeric: %w", args[1], err)
	}
	return bal + sign*amount, nil
}

// queryBalance returns an entity's free balance in display units, via the
// override when configured, else through the chain handle.
func (x *StepExecutor) queryBalance(ctx context.Context, entity string) (float64, error) {
	if x.balance != nil {
		return x.balance(ctx, entity)
	}
	if x.chain == nil {
		return 0, fmt.Errorf("no chain client configured")
	}

	address := entity
	if addr, ok := x.ResolveEntity(entity); ok {
		address = addr
	}
	bal, err := x.chain.QueryBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("balance query for '%s' failed: %w", entity, err)
	}
	return x.network.FromPlanck(bal.Free), nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ============================================================================
// VARIABLE SUBSTITUTION
// ============================================================================

// substituteVariables renders the remaining {{name}} placeholders through
// the Handlebars engine. The context merges the run's variable table over
// the entity address book, so {{alice}} yields the address unless a
// scenario variable shadows it.
func (x *StepExecutor) substituteVariables(ec *ExecutionContext, text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	vars := make(map[string]any, len(x.entities)+8)
	for name, addr := range x.entities {
		vars[name] = addr
	}
	vars["network"] = x.network.Name
	vars["symbol"] = x.network.Symbol

	x.mu.Lock()
	for k, v := range ec.Variables {
		vars[k] = v
	}
	x.mu.Unlock()

	rendered, err := raymond.Render(text, vars)
	if err != nil {
		x.log.Warn("Prompt template rendering failed, using raw text", "error", err)
		return text
	}
	return rendered
}

// substituteEntityNames replaces bare entity names in prompt text with
// their resolved addresses. Names that resolve to nothing pass through
// unchanged, and text inside a leftover {{calc:...}} placeholder is never
// touched.
func (x *StepExecutor) substituteEntityNames(text string) string {
	spans := calcPattern.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return x.replaceEntityNames(text)
	}

	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(x.replaceEntityNames(text[last:sp[0]]))
		b.WriteString(text[sp[0]:sp[1]])
		last = sp[1]
	}
	b.WriteString(x.replaceEntityNames(text[last:]))
	return b.String()
}

func (x *StepExecutor) replaceEntityNames(text string) string {
	names := make(map[string]string, len(x.entities)+len(DevAddresses))
	for name, addr := range DevAddresses {
		names[name] = addr
	}
	for name, addr := range x.entities {
		names[name] = addr
	}

	for name, addr := range names {
		if name == "" || addr == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, addr)
	}
	return text
}
