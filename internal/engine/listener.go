package engine

import (
	"context"
	"log"

	"github.com/deskd-io/deskd/internal/collection"
)

// RunListener subscribes to the remote change feed and keeps the store
// live: any ticket change refetches the current view (filters re-read
// at invalidation time, never a frozen snapshot), a message change
// refetches the thread only when it belongs to the selected ticket.
//
// If the subscription cannot be established the engine degrades
// silently: state stays correct up to the next manual fetch. The error
// is returned so callers can log it, but nothing is retried here.
func (s *Store) RunListener(ctx context.Context) error {
	ch, err := s.remote.Changes(ctx)
	if err != nil {
		log.Printf("live invalidation unavailable, falling back to manual refetch: %v", err)
		return err
	}
	go s.consume(ctx, ch)
	return nil
}

func (s *Store) consume(ctx context.Context, ch <-chan collection.ChangeEvent) {
	for ev := range ch {
		invalidationsTotal.WithLabelValues(ev.Table).Inc()
		s.HandleChange(ctx, ev)
	}
}

// HandleChange applies one change event to the store. The Registry
// dispatches here when several tenant stores share one feed.
func (s *Store) HandleChange(ctx context.Context, ev collection.ChangeEvent) {
	switch ev.Table {
	case collection.TableTickets:
		if err := s.Refetch(ctx); err != nil {
			log.Printf("refetch after %s on %s: %v", ev.Event, ev.Table, err)
		}
	case collection.TableMessages:
		s.mu.Lock()
		selected := s.selectedID
		s.mu.Unlock()
		if selected == "" || selected != ev.TicketID {
			return
		}
		if err := s.FetchMessages(ctx, selected); err != nil {
			log.Printf("thread refetch for %s: %v", selected, err)
		}
	}
}
