package engine

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/deskd-io/deskd/internal/models"
)

var countViews = []models.View{
	models.ViewAll,
	models.ViewMine,
	models.ViewUnassigned,
	models.ViewTeam,
	models.ViewArchived,
}

// refreshCounts recomputes the five per-view badge counts in parallel
// and applies them only while gen is still the latest fetch. Counts are
// approximate by design and never block or fail the main list.
func (s *Store) refreshCounts(tenantID, userID string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), countsTimeout)
	defer cancel()

	counts, err := s.ComputeCounts(ctx, tenantID, userID)
	if err != nil {
		log.Printf("view counts refresh: %v", err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		staleDrops.Inc()
		return
	}
	s.counts = counts
	snap, fns := s.publishLocked()
	s.mu.Unlock()
	deliver(snap, fns)
	countRefreshes.Inc()
}

// ComputeCounts runs one count query per view concurrently. Soft-empty
// views (no user for "mine", no teams for "team") contribute zero
// without touching the store; team resolution is shared with list
// fetches through the resolver's cache.
func (s *Store) ComputeCounts(ctx context.Context, tenantID, userID string) (models.ViewCounts, error) {
	var counts models.ViewCounts
	results := make([]int, len(countViews))

	g, gctx := errgroup.WithContext(ctx)
	for i, view := range countViews {
		i, view := i, view
		g.Go(func() error {
			plan, err := s.resolver.Resolve(gctx, tenantID, userID, view, "")
			if err != nil {
				return err
			}
			if plan.Empty {
				return nil
			}
			n, err := s.remote.CountTickets(gctx, plan.Filter)
			if err != nil {
				return err
			}
			results[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}

	counts.All = results[0]
	counts.Mine = results[1]
	counts.Unassigned = results[2]
	counts.Team = results[3]
	counts.Archived = results[4]
	return counts, nil
}
