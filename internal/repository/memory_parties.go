package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"soltrack/internal/models"
)

// MemoryPartiesRepository backs tests and DB-less development.
type MemoryPartiesRepository struct {
	mu      sync.RWMutex
	parties map[string]*models.Party
}

// NewMemoryPartiesRepository creates an empty in-memory repository.
func NewMemoryPartiesRepository() *MemoryPartiesRepository {
	return &MemoryPartiesRepository{parties: map[string]*models.Party{}}
}

var _ PartiesRepository = (*MemoryPartiesRepository)(nil)

// Put registers a party, overwriting any existing profile for the address.
func (r *MemoryPartiesRepository) Put(p *models.Party) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.parties[p.Address] = &cp
}

func (r *MemoryPartiesRepository) GetByAddress(_ context.Context, address string) (*models.Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parties[address]
	if !ok {
		return nil, fmt.Errorf("party %s: %w", address, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPartiesRepository) ListByRole(_ context.Context, role string) ([]*models.Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Party
	for _, p := range r.parties {
		if strings.EqualFold(p.Role, role) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}
