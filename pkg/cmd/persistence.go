package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/dukex/hierarchy-killer/pkg/persistence/file"
	"github.com/dukex/hierarchy-killer/pkg/persistence/postgresql"
)

var supportedLedgerProviders = []string{"file", "postgres", "postgresql"}

// NewLedger opens the ledger named by databaseURL. URLs without a known
// scheme are treated as file paths.
func NewLedger(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Ledger, error) {
	provider := parseLedgerProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		ledger, err := postgresql.NewLedger(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return ledger, nil
	case "file":
		ledger, err := file.NewLedger(databaseURL)
		if err != nil {
			return nil, err
		}

		return ledger, nil
	default:
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnsupportedProvider, provider)
	}
}

func parseLedgerProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedLedgerProviders {
		if provider == supported {
			return provider
		}
	}

	return provider
}
