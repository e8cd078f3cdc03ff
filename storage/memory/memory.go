// Package memory provides an in-memory Store, grounded on the mutex
// guarded map pattern of the upstream in-memory adapter, generalized from
// one map per entity to one map per model name so it can serve any model
// a plugin registers.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/better-auth/authd/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store. Safe for
// concurrent use; every operation takes the single mutex for its
// duration, matching the upstream adapter's "whole storage" lock rather
// than per-model locks, since the core's write volume does not warrant
// finer granularity.
type Store struct {
	mu     sync.Mutex
	models map[string]map[string]storage.Record // model -> id -> record
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{models: make(map[string]map[string]storage.Record)}
}

func (s *Store) table(model string) map[string]storage.Record {
	t, ok := s.models[model]
	if !ok {
		t = make(map[string]storage.Record)
		s.models[model] = t
	}
	return t
}

func clone(r storage.Record) storage.Record {
	out := make(storage.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (s *Store) Create(_ context.Context, model string, data storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := clone(data)
	id, _ := rec["id"].(string)
	if id == "" {
		id = storage.NewID()
		rec["id"] = id
	}
	t := s.table(model)
	if _, exists := t[id]; exists {
		return nil, storage.ErrAlreadyExists
	}
	t[id] = rec
	return clone(rec), nil
}

func (s *Store) find(model string, where []storage.Where) ([]storage.Record, error) {
	var out []storage.Record
	for _, rec := range s.table(model) {
		ok, err := storage.Matches(rec, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) FindOne(_ context.Context, model string, where []storage.Where, opts *storage.FindOptions) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return nil, err
	}
	matches = applyOptions(matches, opts)
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return clone(matches[0]), nil
}

func (s *Store) FindMany(_ context.Context, model string, where []storage.Where, opts *storage.FindOptions) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return nil, err
	}
	matches = applyOptions(matches, opts)
	out := make([]storage.Record, len(matches))
	for i, m := range matches {
		out[i] = clone(m)
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, model string, where []storage.Where) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return 0, err
	}
	return int64(len(matches)), nil
}

func (s *Store) Update(_ context.Context, model string, where []storage.Where, update storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(model)
	matches, err := s.find(model, where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	id := matches[0].ID()
	for k, v := range update {
		t[id][k] = v
	}
	return clone(t[id]), nil
}

func (s *Store) UpdateMany(_ context.Context, model string, where []storage.Where, update storage.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(model)
	matches, err := s.find(model, where)
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		id := m.ID()
		for k, v := range update {
			t[id][k] = v
		}
	}
	return int64(len(matches)), nil
}

func (s *Store) Delete(_ context.Context, model string, where []storage.Where) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return storage.ErrNotFound
	}
	delete(s.table(model), matches[0].ID())
	return nil
}

func (s *Store) DeleteMany(_ context.Context, model string, where []storage.Where) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return 0, err
	}
	t := s.table(model)
	for _, m := range matches {
		delete(t, m.ID())
	}
	return int64(len(matches)), nil
}

// ConsumeOne finds and deletes the first matching record under a single
// critical section, so a concurrent ConsumeOne/FindOne/Delete on the same
// row can never observe it between the find and the delete.
func (s *Store) ConsumeOne(_ context.Context, model string, where []storage.Where) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.find(model, where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	rec := clone(matches[0])
	delete(s.table(model), rec.ID())
	return rec, nil
}

// Transaction runs fn against the same Store: every operation already
// takes the store-wide mutex, so nested calls observe a consistent view.
// A failing fn does not roll back prior writes within it — true
// atomicity across multiple calls requires the sql adapter's real
// transactions; this matches the narrow in-memory guarantee documented
// in spec §4.8.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	return fn(ctx, s)
}

func (s *Store) Close() error { return nil }

func applyOptions(records []storage.Record, opts *storage.FindOptions) []storage.Record {
	if opts == nil {
		return records
	}
	if opts.SortBy != "" {
		sort.SliceStable(records, func(i, j int) bool {
			a := toString(records[i][opts.SortBy])
			b := toString(records[j][opts.SortBy])
			if opts.Desc {
				return a > b
			}
			return a < b
		})
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(records) {
			return nil
		}
		records = records[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}
	return records
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
