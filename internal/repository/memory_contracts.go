package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"soltrack/internal/models"
)

// MemoryContractsRepository backs tests and DB-less development.
type MemoryContractsRepository struct {
	mu        sync.RWMutex
	contracts map[int64]*models.Contract
	nextID    int64
}

// NewMemoryContractsRepository creates an empty in-memory repository.
func NewMemoryContractsRepository() *MemoryContractsRepository {
	return &MemoryContractsRepository{
		contracts: map[int64]*models.Contract{},
		nextID:    1,
	}
}

var _ ContractsRepository = (*MemoryContractsRepository)(nil)

func (r *MemoryContractsRepository) Create(_ context.Context, c *models.Contract) (*models.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cp := *c
	cp.ContractID = r.nextID
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.nextID++
	r.contracts[cp.ContractID] = &cp

	out := cp
	return &out, nil
}

func (r *MemoryContractsRepository) GetByID(_ context.Context, id int64) (*models.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %d: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryContractsRepository) FindByStatus(_ context.Context, statuses []string, filters ContractFilters) ([]*models.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := map[string]bool{}
	for _, s := range statuses {
		want[s] = true
	}

	var out []*models.Contract
	for _, c := range r.contracts {
		if !want[c.Status] {
			continue
		}
		if !matchesFilters(c, filters) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out, nil
}

func (r *MemoryContractsRepository) UpdateStatusIf(_ context.Context, id int64, expect []string, upd StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contracts[id]
	if !ok {
		return false, nil
	}

	matched := false
	for _, s := range expect {
		if c.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	c.Status = upd.Status
	if upd.StartCoord != nil {
		coord := *upd.StartCoord
		c.StartCoord = &coord
	}
	if upd.StartDate != nil {
		t := *upd.StartDate
		c.StartDate = &t
	}
	if upd.EndDate != nil {
		t := *upd.EndDate
		c.EndDate = &t
	}
	if upd.DeliveredAt != nil {
		t := *upd.DeliveredAt
		c.DeliveredAt = &t
	}
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryContractsRepository) StatusCounts(_ context.Context, filters ContractFilters) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[string]int{}
	for _, c := range r.contracts {
		if !matchesFilters(c, filters) {
			continue
		}
		counts[c.Status]++
	}
	return counts, nil
}

func matchesFilters(c *models.Contract, filters ContractFilters) bool {
	switch filters.Role {
	case models.RoleBuyer:
		return c.BuyerAddress == filters.Address
	case models.RoleSeller:
		return c.SellerAddress == filters.Address
	}
	return true
}
