package engine

import (
	"context"
	"log"
	"sync"

	"github.com/deskd-io/deskd/internal/collection"
)

// Registry scopes sync engines per tenant. Filters carry the tenant but
// the Store's list, counts and selection are singletons, so tenants
// sharing one Store would observe each other's state; the registry
// gives every tenant its own Store instead. A single change-feed
// subscription is fanned out to the owning tenant's store, keeping one
// feed connection no matter how many tenants are active.
type Registry struct {
	remote  collection.Store
	factory func(tenantID string) *Store

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a registry that builds tenant stores with factory
// on first use.
func NewRegistry(remote collection.Store, factory func(tenantID string) *Store) *Registry {
	return &Registry{
		remote:  remote,
		factory: factory,
		stores:  make(map[string]*Store),
	}
}

// Get returns the tenant's store, creating it on first use.
func (r *Registry) Get(tenantID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[tenantID]
	if !ok {
		st = r.factory(tenantID)
		r.stores[tenantID] = st
	}
	return st
}

// RunListener subscribes to the remote change feed once and dispatches
// each event to the owning tenant's store. Like Store.RunListener it
// degrades silently when the feed cannot be established.
func (r *Registry) RunListener(ctx context.Context) error {
	ch, err := r.remote.Changes(ctx)
	if err != nil {
		log.Printf("live invalidation unavailable, falling back to manual refetch: %v", err)
		return err
	}
	go func() {
		for ev := range ch {
			invalidationsTotal.WithLabelValues(ev.Table).Inc()
			for _, st := range r.storesFor(ev.TenantID) {
				st.HandleChange(ctx, ev)
			}
		}
	}()
	return nil
}

// storesFor resolves the dispatch targets for an event. Events without
// a tenant (feeds predating the tenant tag) go to every store: each
// refetch re-reads its own filters, so the cost is a redundant fetch,
// never cross-tenant state.
func (r *Registry) storesFor(tenantID string) []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenantID != "" {
		if st, ok := r.stores[tenantID]; ok {
			return []*Store{st}
		}
		return nil
	}
	out := make([]*Store, 0, len(r.stores))
	for _, st := range r.stores {
		out = append(out, st)
	}
	return out
}
