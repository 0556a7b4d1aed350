// Package views translates named ticket views into concrete query plans
// for the remote collection.
package views

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/deskd-io/deskd/internal/cache"
	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/models"
)

// DefaultTeamTTL bounds staleness of cached team membership. Membership
// changes rarely; the badge counts are approximate anyway.
const DefaultTeamTTL = 30 * time.Second

// Plan is a resolved view: the predicate set to query with, or a
// soft-empty marker meaning no query should be issued at all.
type Plan struct {
	Filter collection.Filter
	Empty  bool
}

// Resolver builds Plans from (tenant, user, view, status). Team
// membership is resolved through the store and cached per user.
type Resolver struct {
	store collection.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(store collection.Store, c cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTeamTTL
	}
	return &Resolver{store: store, cache: c, ttl: ttl}
}

// Resolve produces the query plan for a view. A nil error with
// Plan.Empty set means the view is empty by construction (no user for
// "mine", no teams for "team") and the caller must not hit the store.
//
// An explicit status replaces the view's default status exclusions;
// without one, archived tickets are excluded everywhere but the
// archived view, and "all" additionally hides closed tickets.
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID string, view models.View, status string) (Plan, error) {
	f := collection.Filter{collection.Eq("tenant_id", tenantID)}

	switch view {
	case models.ViewMine:
		if userID == "" {
			return Plan{Empty: true}, nil
		}
		f = f.And(collection.Eq("assigned_to", userID))
	case models.ViewUnassigned:
		f = f.And(collection.IsNull("assigned_to"))
	case models.ViewTeam:
		if userID == "" {
			return Plan{Empty: true}, nil
		}
		teamIDs, err := r.TeamIDs(ctx, tenantID, userID)
		if err != nil {
			return Plan{}, err
		}
		if len(teamIDs) == 0 {
			return Plan{Empty: true}, nil
		}
		f = f.And(collection.In("team_id", teamIDs))
	case models.ViewArchived:
		// The archived view is a status predicate by itself; an
		// explicit status filter would only contradict it.
		return Plan{Filter: f.And(collection.Eq("status", models.StatusArchived))}, nil
	case models.ViewAll, "":
		// no assignment predicate
	default:
		return Plan{}, fmt.Errorf("unknown view %q", view)
	}

	if status != "" {
		return Plan{Filter: f.And(collection.Eq("status", status))}, nil
	}

	f = f.And(collection.NotEq("status", models.StatusArchived))
	if view == models.ViewAll || view == "" {
		f = f.And(collection.NotEq("status", models.StatusClosed))
	}
	return Plan{Filter: f}, nil
}

// TeamIDs returns the union of teams the user belongs to and teams the
// user manages, deduplicated and sorted. Results are cached for the
// resolver's TTL.
func (r *Resolver) TeamIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	key := "teams:" + tenantID + ":" + userID
	if r.cache != nil {
		if ids, ok := r.cache.GetStrings(ctx, key); ok {
			return ids, nil
		}
	}

	member, err := r.store.TeamIDsForMember(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve team membership: %w", err)
	}
	managed, err := r.store.TeamIDsManagedBy(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve managed teams: %w", err)
	}

	seen := make(map[string]struct{}, len(member)+len(managed))
	ids := make([]string, 0, len(member)+len(managed))
	for _, id := range append(member, managed...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if r.cache != nil {
		r.cache.SetStrings(ctx, key, ids, r.ttl)
	}
	return ids, nil
}
