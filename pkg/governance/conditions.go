package governance

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// ConditionInput is the state a condition is evaluated against.
type ConditionInput struct {
	Balance   int64
	Ledger    uint64
	Timestamp uint64
	Amount    int64
}

// ConditionEvaluator evaluates proposal execution conditions. Expression
// conditions are CEL programs over balance, ledger, timestamp and amount,
// compiled once and cached.
type ConditionEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewConditionEvaluator creates an evaluator with the condition environment.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("balance", cel.IntType),
		cel.Variable("ledger", cel.IntType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("amount", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ConditionEvaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Validate rejects malformed conditions before they are stored.
func (c *ConditionEvaluator) Validate(conds []contracts.Condition) error {
	for i, cond := range conds {
		switch cond.Kind {
		case contracts.ConditionBalanceAbove, contracts.ConditionDateAfter, contracts.ConditionDateBefore:
		case contracts.ConditionExpression:
			if _, err := c.program(cond.Expr); err != nil {
				return fmt.Errorf("%w: condition %d: %w", contracts.ErrInvalidConfig, i, err)
			}
		default:
			return fmt.Errorf("%w: condition %d has unknown kind %q", contracts.ErrInvalidConfig, i, cond.Kind)
		}
	}
	return nil
}

// Met combines conds with logic. No conditions means met. An expression that
// fails to compile or evaluate, or yields a non-bool, counts as not met.
func (c *ConditionEvaluator) Met(conds []contracts.Condition, logic contracts.ConditionLogic, in ConditionInput) bool {
	if len(conds) == 0 {
		return true
	}
	for _, cond := range conds {
		ok := c.holds(cond, in)
		if logic == contracts.LogicOr && ok {
			return true
		}
		if logic != contracts.LogicOr && !ok {
			return false
		}
	}
	return logic != contracts.LogicOr
}

func (c *ConditionEvaluator) holds(cond contracts.Condition, in ConditionInput) bool {
	switch cond.Kind {
	case contracts.ConditionBalanceAbove:
		return in.Balance > cond.Amount
	case contracts.ConditionDateAfter:
		return in.Ledger > cond.Ledger
	case contracts.ConditionDateBefore:
		return in.Ledger < cond.Ledger
	case contracts.ConditionExpression:
		ok, err := c.eval(cond.Expr, in)
		return err == nil && ok
	default:
		return false
	}
}

func (c *ConditionEvaluator) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile: expression yields %s, want bool", ast.OutputType())
	}
	p, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	c.prgCache[expr] = p
	return p, nil
}

func (c *ConditionEvaluator) eval(expr string, in ConditionInput) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"balance":   in.Balance,
		"ledger":    toInt(in.Ledger),
		"timestamp": toInt(in.Timestamp),
		"amount":    in.Amount,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func toInt(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// conditionsMet evaluates p's conditions against the live balance and clock.
func (e *Engine) conditionsMet(ctx context.Context, p *contracts.Proposal) (bool, error) {
	if len(p.Conditions) == 0 {
		return true, nil
	}
	balance, err := e.treasury.Balance(ctx, p.Token)
	if err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	return e.conditions.Met(p.Conditions, p.ConditionLogic, ConditionInput{
		Balance:   balance,
		Ledger:    e.clock.Sequence(),
		Timestamp: e.clock.Timestamp(),
		Amount:    p.Amount,
	}), nil
}
