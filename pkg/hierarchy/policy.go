package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/protocol"
)

const enabledValue = "true"

// PolicyResolver derives the kill policy of a run from its configuration.
type PolicyResolver struct {
	config protocol.ConfigSource
	logger *slog.Logger
}

func NewPolicyResolver(config protocol.ConfigSource, logger *slog.Logger) *PolicyResolver {
	return &PolicyResolver{
		config: config,
		logger: logger,
	}
}

// Resolve reads the policy of run. When the configuration cannot be read the
// zero policy is returned, which leaves the run untracked.
func (p *PolicyResolver) Resolve(ctx context.Context, run models.RunID) models.Policy {
	snapshot, err := p.snapshot(ctx, run)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to read run configuration, run is not tracked",
			"run", run, "error", err)

		return models.Policy{}
	}

	return models.Policy{
		Enabled:        snapshot[models.EnableKey] == enabledValue,
		KillUpstream:   snapshot[models.KillUpstreamKey] == enabledValue,
		KillDownstream: snapshot[models.KillDownstreamKey] == enabledValue,
		KillOnUnstable: snapshot[models.KillUnstableKey] == enabledValue,
	}
}

func (p *PolicyResolver) snapshot(ctx context.Context, run models.RunID) (snapshot map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config lookup panicked: %v", r)
		}
	}()

	snapshot = make(map[string]string, 4)

	for _, key := range []string{
		models.EnableKey,
		models.KillUpstreamKey,
		models.KillDownstreamKey,
		models.KillUnstableKey,
	} {
		value, ok, err := p.config.ConfigValue(ctx, run, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		if ok {
			snapshot[key] = value
		}
	}

	return snapshot, nil
}
