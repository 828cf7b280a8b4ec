package store

import (
	"context"
	"sync"
)

// MemorySink keeps detections in-process. Used when no database is
// configured, and in tests.
type MemorySink struct {
	mu         sync.RWMutex
	detections map[string]Detection
}

func NewMemorySink() *MemorySink {
	return &MemorySink{detections: make(map[string]Detection)}
}

func (s *MemorySink) Insert(_ context.Context, d *Detection) error {
	normalize(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[d.ID] = *d
	return nil
}

func (s *MemorySink) Update(_ context.Context, d *Detection) error {
	if d.ID == "" {
		return ErrNotFound
	}
	normalize(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.detections[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.CreatedAt = existing.CreatedAt
	s.detections[d.ID] = *d
	return nil
}

func (s *MemorySink) GetByID(_ context.Context, id string) (*Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.detections[id]; ok {
		copied := d
		return &copied, nil
	}
	return nil, ErrNotFound
}

// Len returns the number of stored detections.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.detections)
}
