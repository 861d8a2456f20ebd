package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment // append order
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments = append(s.assessments, cloneAssessment(a))
	return nil
}

func (s *MemoryStore) ListByUsername(ctx context.Context, username string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Assessment
	for i := len(s.assessments) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		a := s.assessments[i]
		if username != "" && a.Username() != username {
			continue
		}
		result = append(result, cloneAssessment(a))
	}
	return result, nil
}

func cloneAssessment(a *Assessment) *Assessment {
	out := *a
	if a.Submission != nil {
		sub := *a.Submission
		if a.Submission.Features.V != nil {
			v := make(map[string]float64, len(a.Submission.Features.V))
			for k, val := range a.Submission.Features.V {
				v[k] = val
			}
			sub.Features.V = v
		}
		out.Submission = &sub
	}
	return &out
}
