package main

import (
	"context"
	"fmt"

	"github.com/dukex/hierarchy-killer/pkg/cmd"
	"github.com/dukex/hierarchy-killer/pkg/hostbridge"
	"github.com/dukex/hierarchy-killer/pkg/log"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// NewCheckCommand verifies connectivity to Redis and the ledger and prints
// what the daemon would see on startup.
func NewCheckCommand() *cli.Command {
	return &cli.Command{
		Name:    "check",
		Aliases: []string{"c"},
		Usage:   "Check the Redis keys and the abort ledger",
		Flags:   connectionFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule(serviceName).With("action", "check")

			redisClient, err := hostbridge.Connect(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}
			defer redisClient.Close()

			ledger, err := cmd.NewLedger(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer ledger.Close(ctx)

			bridge := hostbridge.NewBridge(redisClient, nil, command.String("redis-prefix"), logger)

			pending, err := bridge.PendingRequests(ctx)
			if err != nil {
				return err
			}

			soleCause := 0

			for _, request := range pending {
				if _, ok := models.SoleUpstream(request.Causes); ok {
					soleCause++
				}
			}

			entries, err := ledger.Entries(ctx, persistence.ListOptions{Limit: 5})
			if err != nil {
				return fmt.Errorf("failed to read ledger: %w", err)
			}

			fmt.Println("Hierarchy Killer Check:")
			fmt.Println("=======================")
			fmt.Printf("  Pending requests: %d (%d with a single upstream cause)\n", len(pending), soleCause)
			fmt.Printf("  Recent ledger entries: %d\n", len(entries))

			for _, entry := range entries {
				fmt.Printf("    %s %s %s%s\n", entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), entry.Kind, entry.RunID, entry.Reason)
			}

			fmt.Println("Redis and ledger are reachable ✅")

			return nil
		},
	}
}
