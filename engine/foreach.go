package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEachOptions configures ForEach (spec §4.9: "forEach with concurrency
// limit/retry/progress").
type ForEachOptions struct {
	// Concurrency bounds how many items are processed at once; <= 0 means 1.
	Concurrency int

	// Retries is how many additional attempts a failing item gets before
	// its error is recorded and iteration moves on.
	Retries int

	// OnProgress is called after every item (success or final failure)
	// with the running done/total counts.
	OnProgress func(done, total int)

	// StopOnError aborts the whole iteration on the first item that still
	// fails after retries, instead of continuing to the rest.
	StopOnError bool
}

// ForEach applies fn to every item with bounded concurrency, following
// pthm-melange/melange/cache.go's mutex-guarded-state style applied here
// to a worker pool instead of a cache. Errors from individual items are
// collected and returned together (as a single joined error) unless
// StopOnError is set, in which case the first one aborts the rest.
func ForEach[T any](ctx context.Context, items []T, opts ForEachOptions, fn func(ctx context.Context, item T) error) error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var errs []error
	done := 0
	total := len(items)
	stopped := false

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		sem <- struct{}{}
		mu.Lock()
		stop := stopped
		mu.Unlock()
		if stop {
			<-sem
			break
		}
		g.Go(func() error {
			defer func() { <-sem }()

			var err error
			for attempt := 0; attempt <= opts.Retries; attempt++ {
				if err = fn(gctx, item); err == nil {
					break
				}
			}

			mu.Lock()
			done++
			if err != nil {
				errs = append(errs, err)
				if opts.StopOnError {
					stopped = true
				}
			}
			d, t := done, total
			mu.Unlock()

			if opts.OnProgress != nil {
				opts.OnProgress(d, t)
			}
			if err != nil && opts.StopOnError {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return &multiError{errs: errs}
}

type multiError struct{ errs []error }

func (m *multiError) Error() string {
	s := ""
	for i, e := range m.errs {
		if i > 0 {
			s += "; "
		}
		s += e.Error()
	}
	return s
}

func (m *multiError) Unwrap() []error { return m.errs }
