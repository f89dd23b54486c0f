package quorumvote

import (
	"slices"
)

// NewMemoryHistoryStore return an empty in memory history
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

// Close is a no-op
func (m *MemoryHistoryStore) Close() error {
	return nil
}

// Append stores a generation conclusion
func (m *MemoryHistoryStore) Append(entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	return nil
}

// Get return the entry of the provided run and generation
func (m *MemoryHistoryStore) Get(runID string, generation int) (HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.entries {
		if entry.RunID == runID && entry.Generation == generation {
			return entry, nil
		}
	}
	return HistoryEntry{}, ErrNotFound
}

// List return the entries of the provided run
func (m *MemoryHistoryStore) List(runID string) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []HistoryEntry
	for _, entry := range m.entries {
		if runID == "" || entry.RunID == runID {
			entries = append(entries, entry)
		}
	}
	slices.SortStableFunc(entries, compareHistoryEntries)
	return entries, nil
}

func compareHistoryEntries(a, b HistoryEntry) int {
	if a.RunID != b.RunID {
		return a.Time.Compare(b.Time)
	}
	return a.Generation - b.Generation
}
