package resource

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryRepository keeps resources in process. Used by the memory store driver and tests.
type memoryRepository struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

func NewMemoryRepository() Repository {
	return &memoryRepository{resources: make(map[string]Resource)}
}

func (r *memoryRepository) Create(ctx context.Context, res *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res.CreatedAt = time.Now().UTC()
	r.resources[res.ID] = *res
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id string) (*Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (r *memoryRepository) List(ctx context.Context, filter Filter) ([]*Resource, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Resource
	for _, res := range r.resources {
		if filter.Kind != "" && res.Kind != filter.Kind {
			continue
		}
		if filter.OwnerID != "" && res.OwnerID != filter.OwnerID {
			continue
		}
		res := res
		matched = append(matched, &res)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	total := len(matched)
	from := min((filter.Page-1)*filter.PageSize, total)
	to := min(from+filter.PageSize, total)
	return matched[from:to], total, nil
}
