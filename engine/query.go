package engine

import (
	"context"
	"sort"
)

// Query is the chainable wrapper every read operation returns (spec §4.9's
// DBPromise): a deferred "(context.Context) ([]T, error)" computation that
// Map/Filter/Sort/Limit compose lazily, executed only when Run or First is
// called. Go has no implicit then-ability, so Run stands in for "await".
type Query[T any] struct {
	run func(ctx context.Context) ([]T, error)
}

// NewQuery wraps a deferred fetch in a Query, the entrypoint every
// DB/EntityOps read method uses to build its returned chain.
func NewQuery[T any](run func(ctx context.Context) ([]T, error)) Query[T] {
	return Query[T]{run: run}
}

// Run executes the chain and returns its results, the Go equivalent of
// awaiting the chain.
func (q Query[T]) Run(ctx context.Context) ([]T, error) {
	return q.run(ctx)
}

// Map transforms every element, preserving T (use the package-level
// MapQuery for a type-changing projection).
func (q Query[T]) Map(fn func(T) T) Query[T] {
	return NewQuery(func(ctx context.Context) ([]T, error) {
		items, err := q.run(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(items))
		for i, it := range items {
			out[i] = fn(it)
		}
		return out, nil
	})
}

// Filter keeps only elements for which keep returns true.
func (q Query[T]) Filter(keep func(T) bool) Query[T] {
	return NewQuery(func(ctx context.Context) ([]T, error) {
		items, err := q.run(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]T, 0, len(items))
		for _, it := range items {
			if keep(it) {
				out = append(out, it)
			}
		}
		return out, nil
	})
}

// Sort stable-sorts elements by less.
func (q Query[T]) Sort(less func(a, b T) bool) Query[T] {
	return NewQuery(func(ctx context.Context) ([]T, error) {
		items, err := q.run(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(items))
		copy(out, items)
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
		return out, nil
	})
}

// Limit truncates to at most n elements (n <= 0 means no results).
func (q Query[T]) Limit(n int) Query[T] {
	return NewQuery(func(ctx context.Context) ([]T, error) {
		items, err := q.run(ctx)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n = 0
		}
		if n > len(items) {
			n = len(items)
		}
		return items[:n], nil
	})
}

// First runs the chain and returns its first element, or ok=false if the
// chain produced none.
func (q Query[T]) First(ctx context.Context) (result T, ok bool, err error) {
	items, err := q.run(ctx)
	if err != nil {
		return result, false, err
	}
	if len(items) == 0 {
		return result, false, nil
	}
	return items[0], true, nil
}

// MapQuery projects a Query[T] into a Query[U], a free function since Go
// methods can't introduce a second type parameter.
func MapQuery[T, U any](q Query[T], fn func(T) U) Query[U] {
	return NewQuery(func(ctx context.Context) ([]U, error) {
		items, err := q.run(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]U, len(items))
		for i, it := range items {
			out[i] = fn(it)
		}
		return out, nil
	})
}
