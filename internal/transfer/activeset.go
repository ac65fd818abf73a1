package transfer

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// Handle describes a running worker.
type Handle struct {
	ID        string          `json:"id"`
	Instance  domain.Instance `json:"instance"`
	StartedAt time.Time       `json:"started_at"`
}

// ActiveSet marks the instances that currently have a worker running.
type ActiveSet struct {
	mu      sync.Mutex
	workers map[domain.Instance]Handle
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{workers: make(map[domain.Instance]Handle)}
}

// Acquire inserts a handle for instance unless one is already present.
func (s *ActiveSet) Acquire(instance domain.Instance) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.workers[instance]; busy {
		return Handle{}, false
	}
	h := Handle{
		ID:        uuid.NewString(),
		Instance:  instance,
		StartedAt: time.Now(),
	}
	s.workers[instance] = h
	return h, true
}

// Release removes the entry for h. An entry belonging to another handle is
// left untouched.
func (s *ActiveSet) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.workers[h.Instance]; ok && cur.ID == h.ID {
		delete(s.workers, h.Instance)
	}
}

func (s *ActiveSet) Contains(instance domain.Instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[instance]
	return ok
}

func (s *ActiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Snapshot returns the running workers ordered by instance.
func (s *ActiveSet) Snapshot() []Handle {
	s.mu.Lock()
	out := make([]Handle, 0, len(s.workers))
	for _, h := range s.workers {
		out = append(out, h)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
