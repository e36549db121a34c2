package hierarchy

import (
	"context"
	"log/slog"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/protocol"
)

// Binder adopts starting runs into the store and links them to their parent.
type Binder struct {
	store    *Store
	policies *PolicyResolver
	host     protocol.Host
	logger   *slog.Logger
}

func NewBinder(store *Store, policies *PolicyResolver, host protocol.Host, logger *slog.Logger) *Binder {
	return &Binder{
		store:    store,
		policies: policies,
		host:     host,
		logger:   logger,
	}
}

// Bind creates the record of a starting run and reports whether it is tracked.
//
// The record is inserted before the causes are inspected. A child that starts
// while its parent is between those two steps may miss the edge; that window
// is accepted rather than closed with a wider lock.
func (b *Binder) Bind(ctx context.Context, run models.RunID, console *slog.Logger) bool {
	generation := b.store.Generation()

	policy := b.policies.Resolve(ctx, run)
	if !policy.Enabled {
		console.DebugContext(ctx, models.EnableKey+" is not true, run is not governed by the hierarchy killer")

		return false
	}

	if !b.store.PutAt(generation, run, models.NewRunRecord(policy, console)) {
		b.logger.DebugContext(ctx, "Tracking state was dropped while the run started, not tracked", "run", run)

		return false
	}

	causes, err := b.host.Causes(ctx, run)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to read run causes, run stays isolated", "run", run, "error", err)

		return true
	}

	parent, ok := models.SoleUpstream(causes)
	if !ok {
		return true
	}

	parentConsole, linked := b.store.Link(run, parent)
	if !linked {
		b.logger.DebugContext(ctx, "Upstream run is not tracked, no edge created", "run", run, "upstream", parent)

		return true
	}

	parentConsole.InfoContext(ctx, "Triggered: "+b.host.URL(ctx, run))

	return true
}
