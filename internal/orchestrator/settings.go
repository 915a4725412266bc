package orchestrator

import (
	"context"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// SettingsProvider is the external settings-store collaborator (spec §6
// "Settings layout"). The core consumes it only at well-defined points —
// cluster start and task spawn — and never caches it across a task
// execution.
type SettingsProvider interface {
	Settings(ctx context.Context) (domain.Settings, error)
}

// StaticSettingsProvider serves a fixed Settings value, for tests and for
// deployments that configure the ceiling/floor once at process start
// rather than through a live store.
type StaticSettingsProvider struct {
	Value domain.Settings
}

// Settings returns the fixed value.
func (p StaticSettingsProvider) Settings(ctx context.Context) (domain.Settings, error) {
	return p.Value, nil
}
