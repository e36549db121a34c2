// Package postgresql provides a PostgreSQL backed ledger.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/dukex/hierarchy-killer/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Ledger implements persistence.Ledger for PostgreSQL.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedger connects to databaseURL and migrates the schema.
func NewLedger(ctx context.Context, logger *slog.Logger, databaseURL string) (*Ledger, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgres_ledger")

	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Ledger{db: database, logger: logger}, nil
}

func (l *Ledger) Close(_ context.Context) error {
	if l.db != nil {
		err := l.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (l *Ledger) HealthCheck(ctx context.Context) error {
	err := l.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (l *Ledger) Record(ctx context.Context, entry *persistence.Entry) error {
	err := entry.Validate()
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, kind, run_id, request_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, string(entry.Kind), string(entry.RunID), entry.RequestID, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return persistence.NewEntryError("Record", entry.ID, err, "failed to insert entry")
	}

	return nil
}

func (l *Ledger) Entry(ctx context.Context, id string) (*persistence.Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, kind, run_id, request_id, reason, created_at
		FROM ledger_entries WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntryError("Entry", id, persistence.ErrEntryNotFound, "")
		}

		return nil, persistence.NewEntryError("Entry", id, err, "failed to query entry")
	}

	return entry, nil
}

func (l *Ledger) Entries(ctx context.Context, opts persistence.ListOptions) ([]*persistence.Entry, error) {
	opts = opts.Normalize()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, run_id, request_id, reason, created_at
		FROM ledger_entries
		WHERE ($1 = '' OR run_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(opts.RunID), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*persistence.Entry, 0, opts.Limit)

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*persistence.Entry, error) {
	var (
		entry persistence.Entry
		kind  string
		runID string
	)

	err := row.Scan(&entry.ID, &kind, &runID, &entry.RequestID, &entry.Reason, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.Kind = persistence.EntryKind(kind)
	entry.RunID = models.RunID(runID)

	return &entry, nil
}
