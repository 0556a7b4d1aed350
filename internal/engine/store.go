// Package engine keeps a paginated, filtered, multi-view ticket list
// consistent with the remote collection while it changes underneath:
// other agents, incoming mail, realtime push. It owns the in-memory
// list, the per-view counts, the ranked search window and the selected
// ticket's thread; everything mutates through its public operations.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/models"
	"github.com/deskd-io/deskd/internal/notify"
	"github.com/deskd-io/deskd/internal/views"
)

// DefaultPageSize is the fixed page length for list fetches.
const DefaultPageSize = 25

// countsTimeout bounds the background badge-count refresh.
const countsTimeout = 10 * time.Second

// Filters is the last-applied filter state: the pagination cursor's
// identity. LoadMore and live invalidation always re-read it from the
// store rather than capturing it at subscription time.
type Filters struct {
	TenantID string      `json:"tenant_id"`
	UserID   string      `json:"user_id"`
	View     models.View `json:"view"`
	Status   string      `json:"status,omitempty"`
	Search   string      `json:"search,omitempty"`
}

// Snapshot is an immutable copy of the store's reactive state, passed
// to subscribers on every committed change.
type Snapshot struct {
	Filters     Filters           `json:"filters"`
	Tickets     []models.Ticket   `json:"tickets"`
	ViewCounts  models.ViewCounts `json:"view_counts"`
	Loading     bool              `json:"loading"`
	LoadingMore bool              `json:"loading_more"`
	HasMore     bool              `json:"has_more"`
	Err         string            `json:"error,omitempty"`
	SelectedID  string            `json:"selected_id,omitempty"`
	Messages    []models.Message  `json:"messages,omitempty"`
}

// Options configures a Store.
type Options struct {
	PageSize int
	Notifier notify.Notifier // fire-and-forget new-ticket hook; nil uses the global one
}

// Store is the ticket view synchronization engine.
type Store struct {
	remote   collection.Store
	resolver *views.Resolver
	pageSize int
	notifier notify.Notifier

	mu          sync.Mutex
	filters     Filters
	tickets     []models.Ticket
	counts      models.ViewCounts
	loading     bool
	loadingMore bool
	hasMore     bool
	errMsg      string
	selectedID  string
	messages    []models.Message

	// Ranked-ID search window: a snapshot of matching IDs taken once
	// per search term and sliced by subsequent load-more calls.
	// searchPos is the next unconsumed window index; it can run ahead
	// of len(tickets) when ranked IDs were deleted before hydration.
	searchTerm string
	searchIDs  []string
	searchPos  int

	// Monotonic request generation. A fetch response is applied only
	// if its generation is still the latest; superseded responses are
	// dropped instead of overwriting fresher state.
	gen uint64

	subs    map[int]func(Snapshot)
	nextSub int
}

// NewStore creates an engine over the given remote collection.
func NewStore(remote collection.Store, resolver *views.Resolver, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Store{
		remote:   remote,
		resolver: resolver,
		pageSize: opts.PageSize,
		notifier: opts.Notifier,
		subs:     make(map[int]func(Snapshot)),
	}
}

// Subscribe registers a callback invoked with a fresh Snapshot after
// every committed state change. The returned function unsubscribes.
// Callbacks run synchronously on the mutating goroutine and must not
// call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	tickets := make([]models.Ticket, len(s.tickets))
	copy(tickets, s.tickets)
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		Filters:     s.filters,
		Tickets:     tickets,
		ViewCounts:  s.counts,
		Loading:     s.loading,
		LoadingMore: s.loadingMore,
		HasMore:     s.hasMore,
		Err:         s.errMsg,
		SelectedID:  s.selectedID,
		Messages:    msgs,
	}
}

// publishLocked snapshots state and returns the subscriber list; the
// caller releases the lock and then invokes deliver.
func (s *Store) publishLocked() (Snapshot, []func(Snapshot)) {
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return snap, fns
}

func deliver(snap Snapshot, fns []func(Snapshot)) {
	for _, fn := range fns {
		fn(snap)
	}
}

// FetchTickets loads page one for the given filters, replacing the
// current list. Every successful fetch also refreshes the per-view
// badge counts in the background.
func (s *Store) FetchTickets(ctx context.Context, f Filters) error {
	return s.fetch(ctx, f, false)
}

// LoadMoreTickets appends the next page under the last-applied filters.
// It is a no-op when the full set is already loaded or a load-more is
// in flight.
func (s *Store) LoadMoreTickets(ctx context.Context) error {
	s.mu.Lock()
	f := s.filters
	s.mu.Unlock()
	return s.fetch(ctx, f, true)
}

// Refetch re-runs the current fetch with the filter state as it is
// right now. Live invalidation and mutations funnel through here so a
// stale closure can never pin old filters.
func (s *Store) Refetch(ctx context.Context) error {
	s.mu.Lock()
	f := s.filters
	s.mu.Unlock()
	if f.TenantID == "" {
		return nil // nothing fetched yet
	}
	return s.fetch(ctx, f, false)
}

func (s *Store) fetch(ctx context.Context, f Filters, appendPage bool) error {
	s.mu.Lock()
	if appendPage {
		if s.loadingMore || !s.hasMore {
			s.mu.Unlock()
			return nil
		}
		f = s.filters
		s.loadingMore = true
	} else {
		s.filters = f
		s.loading = true
		// A replacing fetch starts a new search session: the ranked
		// window is re-materialized even for an unchanged term.
		s.searchTerm = ""
		s.searchIDs = nil
		s.searchPos = 0
	}
	s.gen++
	gen := s.gen
	offset := 0
	if appendPage {
		offset = len(s.tickets)
	}
	snap, fns := s.publishLocked()
	s.mu.Unlock()
	deliver(snap, fns)

	start := time.Now()
	page, hasMore, err := s.fetchPage(ctx, f, offset, gen)

	s.mu.Lock()
	if gen != s.gen {
		// Superseded by a newer fetch; last write wins means the
		// newest request, not the slowest response.
		s.mu.Unlock()
		staleDrops.Inc()
		return nil
	}
	s.loading = false
	s.loadingMore = false
	if err != nil {
		s.errMsg = err.Error()
		if !appendPage {
			s.tickets = []models.Ticket{}
			s.hasMore = false
		}
		snap, fns = s.publishLocked()
		s.mu.Unlock()
		deliver(snap, fns)
		fetchesTotal.WithLabelValues("error").Inc()
		return err
	}
	s.errMsg = ""
	if appendPage {
		s.tickets = append(s.tickets, page...)
	} else {
		s.tickets = page
	}
	s.hasMore = hasMore
	snap, fns = s.publishLocked()
	s.mu.Unlock()
	deliver(snap, fns)

	fetchesTotal.WithLabelValues("ok").Inc()
	fetchDuration.Observe(time.Since(start).Seconds())

	// Badge counts refresh after every successful fetch, for all views
	// at once, so tabs stay live while browsing a different one.
	go s.refreshCounts(f.TenantID, f.UserID, gen)
	return nil
}

// fetchPage resolves the view plan and loads one page. Team resolution
// always completes before the ticket query is issued.
func (s *Store) fetchPage(ctx context.Context, f Filters, offset int, gen uint64) ([]models.Ticket, bool, error) {
	plan, err := s.resolver.Resolve(ctx, f.TenantID, f.UserID, f.View, f.Status)
	if err != nil {
		return nil, false, err
	}
	if plan.Empty {
		return []models.Ticket{}, false, nil
	}
	if f.Search != "" {
		return s.fetchSearchPage(ctx, f, gen)
	}

	q := collection.Query{
		Filter:  plan.Filter,
		OrderBy: "updated_at",
		Desc:    true,
		Offset:  offset,
		Limit:   s.pageSize,
	}
	page, err := s.remote.SelectTickets(ctx, q)
	if err != nil {
		return nil, false, err
	}
	// Full page means there may be more; an exact count is never taken.
	return page, len(page) == s.pageSize, nil
}

// fetchSearchPage slices the ranked-ID window from the consumed
// position and hydrates rows for exactly that slice. The window is a
// snapshot: tickets created after the search started stay invisible
// until a new search is issued.
func (s *Store) fetchSearchPage(ctx context.Context, f Filters, gen uint64) ([]models.Ticket, bool, error) {
	s.mu.Lock()
	ids := s.searchIDs
	start := s.searchPos
	haveWindow := s.searchTerm == f.Search
	s.mu.Unlock()

	if !haveWindow {
		ranked, err := s.remote.SearchTickets(ctx, f.TenantID, f.Search)
		if err != nil {
			return nil, false, err
		}
		s.mu.Lock()
		// Only the latest request installs its window; a superseded
		// search must not clobber a newer term's ranking.
		if gen == s.gen {
			s.searchTerm = f.Search
			s.searchIDs = ranked
			s.searchPos = 0
		}
		s.mu.Unlock()
		ids = ranked
		start = 0
	}

	if start >= len(ids) {
		return []models.Ticket{}, false, nil
	}
	end := start + s.pageSize
	if end > len(ids) {
		end = len(ids)
	}
	window := ids[start:end]

	rows, err := s.remote.TicketsByIDs(ctx, f.TenantID, window)
	if err != nil {
		return nil, false, err
	}
	// The store returns ID-keyed rows in arbitrary order; restore the
	// ranked order. IDs deleted mid-search drop out silently, so the
	// hydrated page may come back short; the position cursor still
	// advances past the whole slice and load-more always makes progress.
	byID := make(map[string]models.Ticket, len(rows))
	for _, t := range rows {
		byID[t.ID] = t
	}
	page := make([]models.Ticket, 0, len(window))
	for _, id := range window {
		if t, ok := byID[id]; ok {
			page = append(page, t)
		}
	}

	s.mu.Lock()
	if gen == s.gen {
		s.searchPos = end
	}
	s.mu.Unlock()
	return page, end < len(ids), nil
}

// SelectTicket marks a ticket as open in the UI and loads its thread.
// An empty id clears the selection.
func (s *Store) SelectTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	s.selectedID = id
	if id == "" {
		s.messages = nil
		snap, fns := s.publishLocked()
		s.mu.Unlock()
		deliver(snap, fns)
		return nil
	}
	s.mu.Unlock()
	return s.FetchMessages(ctx, id)
}

// FetchMessages loads the conversation thread for a ticket. The result
// is applied only if that ticket is still the selected one.
func (s *Store) FetchMessages(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	tenantID := s.filters.TenantID
	s.mu.Unlock()

	msgs, err := s.remote.SelectMessages(ctx, tenantID, ticketID)

	s.mu.Lock()
	if s.selectedID != ticketID {
		s.mu.Unlock()
		staleDrops.Inc()
		return nil
	}
	if err != nil {
		s.errMsg = err.Error()
		snap, fns := s.publishLocked()
		s.mu.Unlock()
		deliver(snap, fns)
		return err
	}
	s.messages = msgs
	snap, fns := s.publishLocked()
	s.mu.Unlock()
	deliver(snap, fns)
	return nil
}

// Ticket reads one ticket directly; list state is untouched.
func (s *Store) Ticket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	return s.remote.GetTicket(ctx, tenantID, id)
}

// Messages reads a ticket's thread directly without changing the
// selection. The selected ticket's thread lives on the snapshot.
func (s *Store) Messages(ctx context.Context, tenantID, ticketID string) ([]models.Message, error) {
	return s.remote.SelectMessages(ctx, tenantID, ticketID)
}

func (s *Store) notifyNewTicket(t models.Ticket) {
	n := s.notifier
	if n == nil {
		n = notify.Get()
	}
	if n == nil {
		return
	}
	// Fire and forget: notification failures never surface to the
	// mutation's caller.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.NewTicket(ctx, t); err != nil {
			log.Printf("new ticket notification: %v", err)
		}
	}()
}
