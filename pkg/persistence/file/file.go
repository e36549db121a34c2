// Package file provides a ledger that keeps one JSON document per entry on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/hierarchy-killer/pkg/persistence"
)

// Ledger implements persistence.Ledger on the file system.
type Ledger struct {
	mu   sync.RWMutex
	root string
}

// NewLedger creates a ledger rooted at root. A "file://" prefix is accepted.
func NewLedger(root string) (*Ledger, error) {
	cleanRoot := filepath.Join(strings.Replace(root, "file://", "", 1), "ledger")

	err := os.MkdirAll(cleanRoot, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	return &Ledger{root: cleanRoot}, nil
}

func (l *Ledger) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the ledger directory still exists.
func (l *Ledger) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(l.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (l *Ledger) path(id string) string {
	return filepath.Join(l.root, id+".json")
}

func (l *Ledger) Record(_ context.Context, entry *persistence.Entry) error {
	err := entry.Validate()
	if err != nil {
		return err
	}

	if strings.ContainsAny(entry.ID, `/\`) {
		return persistence.NewEntryError("Record", entry.ID, persistence.ErrInvalidEntry, "id must not contain path separators")
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return persistence.NewEntryError("Record", entry.ID, err, "failed to marshal entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = os.WriteFile(l.path(entry.ID), data, 0o600)
	if err != nil {
		return persistence.NewEntryError("Record", entry.ID, err, "failed to write entry")
	}

	return nil
}

func (l *Ledger) Entry(_ context.Context, id string) (*persistence.Entry, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, persistence.NewEntryError("Entry", id, persistence.ErrEntryNotFound, "")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.read(id)
}

func (l *Ledger) read(id string) (*persistence.Entry, error) {
	data, err := os.ReadFile(l.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewEntryError("Entry", id, persistence.ErrEntryNotFound, "")
		}

		return nil, persistence.NewEntryError("Entry", id, err, "failed to read entry")
	}

	var entry persistence.Entry

	err = json.Unmarshal(data, &entry)
	if err != nil {
		return nil, persistence.NewEntryError("Entry", id, err, "failed to decode entry")
	}

	return &entry, nil
}

func (l *Ledger) Entries(_ context.Context, opts persistence.ListOptions) ([]*persistence.Entry, error) {
	opts = opts.Normalize()

	l.mu.RLock()
	defer l.mu.RUnlock()

	jsonFiles, err := fs.Glob(os.DirFS(l.root), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger files: %w", err)
	}

	entries := make([]*persistence.Entry, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		entry, err := l.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if opts.RunID != "" && entry.RunID != opts.RunID {
			continue
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}

		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	return entries, nil
}
