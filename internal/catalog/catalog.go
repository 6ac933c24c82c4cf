package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ComponentType classifies what kind of product surface a component is.
type ComponentType string

const (
	TypeBlock  ComponentType = "block"
	TypePage   ComponentType = "page"
	TypeButton ComponentType = "button"
	TypeModule ComponentType = "module"
)

func (t ComponentType) IsValid() bool {
	switch t {
	case TypeBlock, TypePage, TypeButton, TypeModule:
		return true
	}
	return false
}

// Component is a single entitleable unit of the product. Components are
// reference data: immutable once a tariff plan points at them. Category is a
// UI grouping label and never participates in access decisions.
//
// DefaultPrice is in minor units (hundredths).
type Component struct {
	ID           string        `json:"id"`
	Type         ComponentType `json:"type"`
	Key          string        `json:"key"`
	Name         string        `json:"name"`
	Category     string        `json:"category"`
	DefaultPrice int64         `json:"default_price"`
	// UserFacing marks modules plain users may open; admin-only modules
	// (user management, points configuration) stay false.
	UserFacing bool `json:"user_facing"`
}

var ErrNotFound = errors.New("catalog: component not found")

// Store is the read path for catalog reference data.
type Store interface {
	List(ctx context.Context) ([]Component, error)
	Get(ctx context.Context, id string) (Component, error)
	GetByKey(ctx context.Context, key string) (Component, error)
}

// InMemory holds the catalog in process. The catalog is read-mostly and
// seeded once at startup, so a plain RWMutex is enough.
type InMemory struct {
	mu    sync.RWMutex
	byID  map[string]Component
	byKey map[string]Component
}

// NewInMemory creates a catalog seeded with the given components.
func NewInMemory(components []Component) *InMemory {
	s := &InMemory{
		byID:  make(map[string]Component, len(components)),
		byKey: make(map[string]Component, len(components)),
	}
	for _, c := range components {
		s.byID[c.ID] = c
		if c.Key != "" {
			s.byKey[c.Key] = c
		}
	}
	return s
}

func (s *InMemory) List(ctx context.Context) ([]Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Component, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Component{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemory) GetByKey(ctx context.Context, key string) (Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	if !ok {
		return Component{}, ErrNotFound
	}
	return c, nil
}
