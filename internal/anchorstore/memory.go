package anchorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Memory is the in-process store used in tests and single-node dev runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]domain.AnchorRecord
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: map[string]domain.AnchorRecord{}, now: time.Now}
}

func (m *Memory) CreateIfAbsent(_ context.Context, fingerprint string) (domain.AnchorRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[fingerprint]; ok {
		return rec, false, nil
	}
	ts := m.now().UTC()
	rec := domain.AnchorRecord{
		Fingerprint: fingerprint,
		Status:      domain.StatusPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	m.records[fingerprint] = rec
	return rec, true, nil
}

func (m *Memory) Transition(_ context.Context, fingerprint string, from, to domain.Status, fields Fields) (domain.AnchorRecord, error) {
	if err := checkStep(from, to); err != nil {
		return domain.AnchorRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[fingerprint]
	if !ok {
		return domain.AnchorRecord{}, fmt.Errorf("unknown fingerprint %s: %w", fingerprint, domain.ErrStaleTransition)
	}
	if rec.Status != from {
		return domain.AnchorRecord{}, fmt.Errorf("stored status %s, expected %s: %w", rec.Status, from, domain.ErrStaleTransition)
	}
	apply(&rec, to, fields)
	rec.UpdatedAt = m.now().UTC()
	m.records[fingerprint] = rec
	return rec, nil
}

func (m *Memory) Get(_ context.Context, fingerprint string) (domain.AnchorRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[fingerprint]
	return rec, ok, nil
}
