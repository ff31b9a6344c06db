// Package memory provides an in-process framework store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
)

var (
	_ rules.FrameworkRepository = (*FrameworkStore)(nil)
	_ rules.Seeder              = (*FrameworkStore)(nil)
)

// FrameworkStore keeps frameworks and rules in memory. It is seeded once
// from a catalog; reads return copies.
type FrameworkStore struct {
	mu         sync.RWMutex
	frameworks map[string]rules.Framework
	rules      map[string][]rules.Rule
}

// NewFrameworkStore creates an empty store.
func NewFrameworkStore() *FrameworkStore {
	return &FrameworkStore{
		frameworks: make(map[string]rules.Framework),
		rules:      make(map[string][]rules.Rule),
	}
}

// Seed replaces the store contents with the catalog.
func (s *FrameworkStore) Seed(_ context.Context, catalog *rules.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("failed to seed frameworks: %w", err)
	}

	frameworks := make(map[string]rules.Framework, len(catalog.Frameworks))
	for _, fw := range catalog.FrameworkList() {
		frameworks[fw.ID] = fw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameworks = frameworks
	s.rules = catalog.RulesByFramework()
	return nil
}

// ListFrameworks returns every framework ordered by ID.
func (s *FrameworkStore) ListFrameworks(_ context.Context) ([]rules.Framework, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rules.Framework, 0, len(s.frameworks))
	for _, fw := range s.frameworks {
		out = append(out, fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetFramework returns a framework by ID.
func (s *FrameworkStore) GetFramework(_ context.Context, frameworkID string) (rules.Framework, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fw, ok := s.frameworks[frameworkID]
	if !ok {
		return rules.Framework{}, fmt.Errorf("%w: %s", rules.ErrFrameworkNotFound, frameworkID)
	}
	return fw, nil
}

// GetRulesForFramework returns the framework's rules in catalog order.
func (s *FrameworkStore) GetRulesForFramework(_ context.Context, frameworkID string) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.frameworks[frameworkID]; !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrFrameworkNotFound, frameworkID)
	}
	rs := s.rules[frameworkID]
	out := make([]rules.Rule, len(rs))
	copy(out, rs)
	return out, nil
}

// Close is a no-op.
func (s *FrameworkStore) Close() error { return nil }
