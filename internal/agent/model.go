package agent

import (
	"context"
	"fmt"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// modelSelection is the outcome of step 3 of the execute path (spec
// §4.5): the concrete model/level/reasoning-effort for one task.
type modelSelection struct {
	Model           string
	Level           domain.ModelLevel
	ReasoningEffort string
}

// selectModel resolves modelConfig for iteration and enforces the
// cluster-wide model ceiling/floor via the policy engine.
func (a *Agent) selectModel(ctx context.Context, iteration int) (modelSelection, error) {
	mc := a.def.ModelConfig

	var sel modelSelection
	switch mc.Type {
	case "rules":
		matched := false
		for _, rule := range mc.Rules {
			if domain.MatchesIterationPattern(rule.Iterations, iteration) {
				sel = modelSelection{
					Model:           rule.Model,
					Level:           domain.NormalizeModelLevel(rule.ModelLevel),
					ReasoningEffort: rule.ReasoningEffort,
				}
				matched = true
				break
			}
		}
		if !matched {
			return modelSelection{}, domain.NewCoordError(domain.ErrKindNoModelRule,
				fmt.Sprintf("no model rule matches iteration %d for agent %s", iteration, a.def.ID), nil)
		}
	default:
		sel = modelSelection{Model: mc.Model, Level: domain.NormalizeModelLevel(mc.ModelLevel)}
	}

	settings := a.deps.Cluster.Settings()
	if sel.Level != "" {
		// Fast pre-check against the plain min/max rank comparison before
		// paying for a Rego evaluation; a custom policy module could still
		// allow or block something this simple ceiling/floor check
		// wouldn't catch, so the OPA check still runs either way.
		if !settings.WithinCeiling(sel.Level) {
			return modelSelection{}, domain.NewCoordError(domain.ErrKindModelCeilingViolation,
				fmt.Sprintf("model level %s is outside the cluster's configured ceiling/floor", sel.Level), nil)
		}
		if a.deps.Policy != nil {
			if err := a.deps.Policy.Check(ctx, sel.Level, settings); err != nil {
				return modelSelection{}, err
			}
		}
	}

	if sel.Model == "" {
		sel.Model = resolveModelName(sel.Level, settings, a.deps.Cluster.Provider())
	}
	return sel, nil
}

// resolveModelName maps a model level onto a concrete provider model
// name via the provider's levelOverrides (spec §6 Settings layout),
// falling back to the level identifier itself.
func resolveModelName(level domain.ModelLevel, settings domain.Settings, provider string) string {
	if ps, ok := settings.ProviderSettings[provider]; ok {
		if name, ok := ps.LevelOverrides[string(level)]; ok {
			return string(name)
		}
	}
	return string(level)
}
