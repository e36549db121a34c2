// Package hierarchy tracks parent/child run hierarchies and aborts relatives
// of runs that finish badly.
package hierarchy

import (
	"log/slog"
	"sync"

	"github.com/dukex/hierarchy-killer/pkg/models"
)

// Store maps runs to their tracking records. It is the only shared mutable
// state of the tracker; every read and write of a record happens under mu.
type Store struct {
	mu      sync.Mutex
	records map[models.RunID]*models.RunRecord
	// generation changes whenever the records are dropped. Inserts prepared
	// under an older generation are refused.
	generation uint64
	disabled   bool
}

func NewStore() *Store {
	return &Store{
		records: make(map[models.RunID]*models.RunRecord),
	}
}

func (s *Store) Put(run models.RunID, record *models.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[run] = record
}

// Generation returns the current generation, to be passed to PutAt.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generation
}

// PutAt inserts record only while the store is enabled and has not been
// cleared since generation was read.
func (s *Store) PutAt(generation uint64, run models.RunID, record *models.RunRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled || s.generation != generation {
		return false
	}

	s.records[run] = record

	return true
}

// Get returns a copy of the record of run.
func (s *Store) Get(run models.RunID) (*models.RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[run]
	if !ok {
		return nil, false
	}

	return record.Clone(), true
}

func (s *Store) Remove(run models.RunID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, run)
}

func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Clear drops every record at once.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
}

// SetEnabled turns inserts through PutAt on or off. Disabling also clears.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disabled = !enabled
	if !enabled {
		s.clear()
	}
}

func (s *Store) clear() {
	s.records = make(map[models.RunID]*models.RunRecord)
	s.generation++
}

// Link registers child under parent when both are tracked. It returns the
// parent's console on success.
func (s *Store) Link(child, parent models.RunID) (*slog.Logger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	childRecord, ok := s.records[child]
	if !ok {
		return nil, false
	}

	parentRecord, ok := s.records[parent]
	if !ok {
		return nil, false
	}

	childRecord.Upstream[parent] = struct{}{}
	parentRecord.Downstream = append(parentRecord.Downstream, child)

	return parentRecord.Console, true
}

// MarkAborted claims run for an abort with reason. Only the first claim on a
// record succeeds; later claims and missing records report false.
func (s *Store) MarkAborted(run models.RunID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[run]
	if !ok || record.Aborted() {
		return false
	}

	record.AbortReason = reason

	return true
}

// ReleaseAbort undoes a claim made by MarkAborted with reason, so the run can
// be aborted again after the host refused the request.
func (s *Store) ReleaseAbort(run models.RunID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[run]
	if ok && record.AbortReason == reason {
		record.AbortReason = ""
	}
}
