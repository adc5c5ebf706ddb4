package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// MemoryRepository keeps sync outcomes in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string][]domain.SyncOutcomeRecord
}

var _ ports.SyncLedger = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string][]domain.SyncOutcomeRecord)}
}

func (m *MemoryRepository) Migrate(context.Context) error { return nil }

func (m *MemoryRepository) Close(context.Context) error { return nil }

func (m *MemoryRepository) Exists(_ context.Context, encounterID string, status domain.OutcomeStatus) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchLocked(encounterID, status), nil
}

func (m *MemoryRepository) ProcessedSet(_ context.Context, ids []string, status domain.OutcomeStatus) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool)
	for _, id := range ids {
		if m.matchLocked(id, status) {
			result[id] = true
		}
	}
	return result, nil
}

func (m *MemoryRepository) Append(_ context.Context, rec domain.SyncOutcomeRecord) error {
	if rec.ID == "" || rec.EncounterID == "" {
		return fmt.Errorf("%w: outcome record needs id and encounter id", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Status == domain.OutcomeSuccess && m.matchLocked(rec.EncounterID, domain.OutcomeSuccess) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSuccess, rec.EncounterID)
	}
	m.records[rec.EncounterID] = append(m.records[rec.EncounterID], rec)
	return nil
}

func (m *MemoryRepository) History(_ context.Context, encounterID string) ([]domain.SyncOutcomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[encounterID]
	out := make([]domain.SyncOutcomeRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SyncedAt.Before(out[j].SyncedAt) })
	return out, nil
}

// Len returns the total number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, recs := range m.records {
		n += len(recs)
	}
	return n
}

func (m *MemoryRepository) matchLocked(encounterID string, status domain.OutcomeStatus) bool {
	for _, rec := range m.records[encounterID] {
		if status == "" || rec.Status == status {
			return true
		}
	}
	return false
}
