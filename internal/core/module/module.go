// Package module serves the module library that logged in clients fetch.
package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core/cache"
	"github.com/dcrodman/gatehouse/internal/core/data"
)

var ErrNotFound = errors.New("module not found")

// Repository looks modules up by name, caching hits for a configurable TTL.
// Misses are not cached so that a newly uploaded module is visible
// immediately.
type Repository struct {
	db    *gorm.DB
	cache *cache.Cache[*data.Module]
}

// NewRepository returns a Repository backed by db. A ttl of 0 caches
// entries until they are invalidated.
func NewRepository(db *gorm.DB, ttl time.Duration) *Repository {
	return &Repository{
		db:    db,
		cache: cache.New[*data.Module](ttl),
	}
}

// Find returns the module called name or ErrNotFound.
func (r *Repository) Find(ctx context.Context, name string) (*data.Module, error) {
	if m, ok := r.cache.Get(name); ok {
		return m, nil
	}

	m, err := data.FindModuleByName(r.db.WithContext(ctx), name)
	if err != nil {
		return nil, fmt.Errorf("error looking up module %s: %w", name, err)
	} else if m == nil {
		return nil, ErrNotFound
	}

	r.cache.Put(name, m, 0)
	return m, nil
}

// Save stores the module and drops any cached copy.
func (r *Repository) Save(ctx context.Context, m *data.Module) error {
	if err := data.SaveModule(r.db.WithContext(ctx), m); err != nil {
		return err
	}
	r.Invalidate(m.Name)
	return nil
}

// Invalidate drops the cached copy of a module, if any.
func (r *Repository) Invalidate(name string) {
	r.cache.Delete(name)
}
