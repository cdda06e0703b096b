package repository

import (
	"context"
	"sort"
	"sync"

	"wisefido-bioauth/internal/models"
)

// MemoryProfileRepository is the default in-process profile store.
// Suitable for single-instance deployments and unit tests; the Postgres
// implementation covers durable setups.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile // personID -> Profile
}

var _ ProfileRepository = (*MemoryProfileRepository)(nil)

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{
		profiles: map[string]models.Profile{},
	}
}

func (r *MemoryProfileRepository) Put(_ context.Context, profile models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.PersonID] = profile
	return nil
}

func (r *MemoryProfileRepository) Get(_ context.Context, personID string) (*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[personID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryProfileRepository) All(_ context.Context) ([]models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]models.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].PersonID < all[j].PersonID
	})
	return all, nil
}

func (r *MemoryProfileRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = map[string]models.Profile{}
	return nil
}
