// Package modelpolicy enforces the cluster-wide model ceiling/floor
// (spec §4.5 step 3, §7 ModelPolicyError) via an embedded Rego policy,
// adapted from the tool-allow/block policy engine this system's
// predecessor used for tool invocations.
package modelpolicy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// Engine evaluates the model-ceiling policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares an Engine from policyContent (a Rego module
// defining data.model_policy.decision).
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.model_policy.decision"),
		rego.Module("model_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare model policy: %w", err)
	}
	return &Engine{query: query}, nil
}

// NewDefaultEngine prepares an Engine from DefaultPolicy.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// CheckInput is the Rego input: the selected level's rank, and the
// cluster's configured ceiling/floor ranks (0 = unbounded).
type CheckInput struct {
	LevelRank int `json:"level_rank"`
	MaxRank   int `json:"max_rank"`
	MinRank   int `json:"min_rank"`
}

// Check reports whether level is within settings' ceiling/floor. A
// "block" decision surfaces as a MODEL_CEILING_VIOLATION CoordError.
func (e *Engine) Check(ctx context.Context, level domain.ModelLevel, settings domain.Settings) error {
	input := CheckInput{
		LevelRank: level.Rank(),
		MaxRank:   settings.MaxModel.Rank(),
		MinRank:   settings.MinModel.Rank(),
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("evaluate model policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil
	}

	decision, _ := results[0].Expressions[0].Value.(string)
	if decision == "block" {
		return domain.NewCoordError(domain.ErrKindModelCeilingViolation,
			fmt.Sprintf("model level %s (rank %d) is outside the cluster's configured ceiling/floor", level, input.LevelRank), nil)
	}
	return nil
}

// DefaultPolicy blocks any level above max_rank (when max_rank > 0) or
// below min_rank (when min_rank > 0); otherwise allows.
const DefaultPolicy = `
package model_policy

default decision = "allow"

decision = "block" {
	input.max_rank > 0
	input.level_rank > input.max_rank
}

decision = "block" {
	input.min_rank > 0
	input.level_rank < input.min_rank
}
`
