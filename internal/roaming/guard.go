package roaming

import (
	"context"
	"sync"
)

// Guarded serializes access to a store shared between goroutines.
//
// Stores themselves do no locking. The daemon and the dashboard both hold
// the same Guarded so a periodic Sync never interleaves with an API write.
type Guarded struct {
	mu    sync.Mutex
	store RoamingStore
}

// NewGuarded wraps store.
func NewGuarded(store RoamingStore) *Guarded {
	return &Guarded{store: store}
}

// Do runs fn with exclusive access to the store.
//
// Example:
//
//	err := g.Do(func(s roaming.RoamingStore) error {
//	    return roaming.Save(s, "theme", "dark")
//	})
func (g *Guarded) Do(fn func(RoamingStore) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.store)
}

// Sync runs the store's Sync under the lock. The report is the zero value
// when the store does not keep one.
func (g *Guarded) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	err := g.Do(func(s RoamingStore) error {
		err := s.Sync(ctx)
		if r, ok := s.(Reporter); ok {
			report = r.LastReport()
		}
		return err
	})
	return report, err
}
