package engine

import (
	"context"
	"sync"
	"time"

	"github.com/vertexdb/vertex/provider"
)

// loadKey identifies one (type, id) fetch.
type loadKey struct {
	Type string
	ID   string
}

type loadResult struct {
	rec provider.Record
	err error
}

// Loader batches concurrent (type, id) fetches issued within the same tick
// into a single Provider.Get call per distinct key (spec §4.9: "a per-tick
// batching data loader" backing get/hydrate fan-out). Go has no event-loop
// tick to hook into, so a tick is approximated with a short timer window:
// every Load call queues onto the in-flight batch and schedules (or
// reuses) a timer of the Loader's delay; whichever call arrives first starts the
// clock, and every call that lands before it fires joins the same batch.
type Loader struct {
	prov  provider.Provider
	delay time.Duration

	mu    sync.Mutex
	batch map[loadKey][]chan loadResult
	timer *time.Timer
}

// NewLoader creates a Loader backed by prov. delay is the batch window;
// zero defaults to a minimal window that still coalesces same-tick calls.
func NewLoader(prov provider.Provider, delay time.Duration) *Loader {
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Loader{prov: prov, delay: delay, batch: make(map[loadKey][]chan loadResult)}
}

// Load fetches typ/id, joining any other in-flight request for the same
// key issued within the current batch window.
func (l *Loader) Load(ctx context.Context, typ, id string) (provider.Record, error) {
	ch := make(chan loadResult, 1)
	k := loadKey{Type: typ, ID: id}

	l.mu.Lock()
	l.batch[k] = append(l.batch[k], ch)
	if l.timer == nil {
		l.timer = time.AfterFunc(l.delay, l.flush)
	}
	l.mu.Unlock()

	select {
	case r := <-ch:
		return r.rec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadMany fetches every (typ, id) pair concurrently through Load,
// preserving input order in the returned slice.
func (l *Loader) LoadMany(ctx context.Context, typ string, ids []string) ([]provider.Record, error) {
	out := make([]provider.Record, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], errs[i] = l.Load(ctx, typ, id)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *Loader) flush() {
	l.mu.Lock()
	batch := l.batch
	l.batch = make(map[loadKey][]chan loadResult)
	l.timer = nil
	l.mu.Unlock()

	var wg sync.WaitGroup
	for k, waiters := range batch {
		k, waiters := k, waiters
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := l.prov.Get(context.Background(), k.Type, k.ID)
			for _, ch := range waiters {
				ch <- loadResult{rec: rec, err: err}
			}
		}()
	}
	wg.Wait()
}
