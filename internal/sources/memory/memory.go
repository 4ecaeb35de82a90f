package memory

import (
	"context"
	"sync"

	"cpidash/internal/core"
	"cpidash/internal/sources"
)

var _ sources.DatasetSource = (*Store)(nil)

// Store is an in-process dataset source used by tests and local demos.
type Store struct {
	mu  sync.Mutex
	obs []core.Observation
	err error
}

func New(obs []core.Observation) *Store {
	return &Store{obs: append([]core.Observation(nil), obs...)}
}

// Failing returns a store whose Load always fails with err.
func Failing(err error) *Store {
	return &Store{err: err}
}

func (s *Store) Describe() string { return "memory" }

func (s *Store) Load(_ context.Context) (*core.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, &core.LoadError{Source: "memory", Err: s.err}
	}
	return core.NewDataset(s.obs), nil
}

// Sample returns a small fixed dataset with two categories.
func Sample() []core.Observation {
	return []core.Observation{
		{Date: core.NewDate(2019, 1, 1), Category: "Health", Value: 100.0},
		{Date: core.NewDate(2020, 1, 1), Category: "Health", Value: 105.2},
		{Date: core.NewDate(2021, 1, 1), Category: "Health", Value: 108.0},
		{Date: core.NewDate(2020, 1, 1), Category: "Food", Value: 98.5},
	}
}
