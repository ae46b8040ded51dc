package publication

import (
	"context"
	"sort"
	"sync"

	"github.com/wonny/tally/internal/contracts"
)

// MemoryFlagStore keeps publication flags in memory
type MemoryFlagStore struct {
	mu    sync.RWMutex
	flags map[string]contracts.PublicationFlag
}

// NewMemoryFlagStore creates an empty flag store
func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string]contracts.PublicationFlag)}
}

// Flags returns the explicit flags among keys
func (s *MemoryFlagStore) Flags(ctx context.Context, keys []string) (map[string]contracts.PublicationFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]contracts.PublicationFlag, len(keys))
	for _, key := range keys {
		if flag, ok := s.flags[key]; ok {
			out[key] = flag
		}
	}
	return out, nil
}

// SetFlag upserts a flag
func (s *MemoryFlagStore) SetFlag(ctx context.Context, flag contracts.PublicationFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags[flag.UnitKey] = flag
	return nil
}

// ListFlags returns every flag ordered by key
func (s *MemoryFlagStore) ListFlags(ctx context.Context) ([]contracts.PublicationFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.PublicationFlag, 0, len(s.flags))
	for _, flag := range s.flags {
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitKey < out[j].UnitKey })
	return out, nil
}
