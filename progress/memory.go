package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aluiziolira/bookprice/models"
)

// Memory is an in-process job store for local runs and tests.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]models.JobRecord
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]models.JobRecord), now: time.Now}
}

// Create stores a new record. A missing status defaults to PENDING.
func (m *Memory) Create(_ context.Context, rec models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[rec.JobID]; exists {
		return fmt.Errorf("job %s already exists", rec.JobID)
	}
	if rec.Status == "" {
		rec.Status = models.JobPending
	}
	now := m.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.jobs[rec.JobID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return models.JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec, nil
}

func (m *Memory) Update(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !slices.Contains(u.allowedFrom(), rec.Status) {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, rec.Status)
	}
	u.apply(&rec)
	rec.UpdatedAt = m.now()
	m.jobs[id] = rec
	return nil
}
