package quota

import (
	"context"
	"sync"
	"time"

	"github.com/aluiziolira/bookprice/models"
)

// Memory is an in-process ledger safe for concurrent jobs.
type Memory struct {
	mu      sync.Mutex
	records map[string]models.QuotaRecord
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.QuotaRecord),
		now:     time.Now,
	}
}

func (m *Memory) Usage(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[day].Calls, nil
}

func (m *Memory) Increment(_ context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[day]
	rec.Day = day
	rec.Calls++
	rec.UpdatedAt = m.now()
	m.records[day] = rec
	return nil
}

// Prune drops records not updated within olderThan.
func (m *Memory) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-olderThan)
	removed := 0
	for day, rec := range m.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(m.records, day)
			removed++
		}
	}
	return removed, nil
}
