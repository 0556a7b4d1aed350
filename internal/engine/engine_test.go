package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/models"
	"github.com/deskd-io/deskd/internal/views"
)

const (
	testTenant = "tenant-1"
	testAgent  = "agent-1"
)

// instrumented wraps the in-memory store to observe and manipulate the
// engine's remote calls.
type instrumented struct {
	*collection.Memory
	selects    atomic.Int64
	searches   atomic.Int64
	msgSelects atomic.Int64
	failSelect atomic.Bool
	mu         sync.Mutex
	gate       chan struct{} // when set, the next SelectTickets blocks on it
	searchGate chan struct{} // when set, the next SearchTickets blocks on it
	feedErr    error
}

func (i *instrumented) setGate(g chan struct{}) {
	i.mu.Lock()
	i.gate = g
	i.mu.Unlock()
}

func (i *instrumented) takeGate() chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	g := i.gate
	i.gate = nil
	return g
}

func (i *instrumented) SelectTickets(ctx context.Context, q collection.Query) ([]models.Ticket, error) {
	i.selects.Add(1)
	if g := i.takeGate(); g != nil {
		<-g
	}
	if i.failSelect.Load() {
		return nil, fmt.Errorf("remote unavailable")
	}
	return i.Memory.SelectTickets(ctx, q)
}

func (i *instrumented) setSearchGate(g chan struct{}) {
	i.mu.Lock()
	i.searchGate = g
	i.mu.Unlock()
}

func (i *instrumented) takeSearchGate() chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	g := i.searchGate
	i.searchGate = nil
	return g
}

func (i *instrumented) SearchTickets(ctx context.Context, tenantID, term string) ([]string, error) {
	i.searches.Add(1)
	if g := i.takeSearchGate(); g != nil {
		<-g
	}
	return i.Memory.SearchTickets(ctx, tenantID, term)
}

func (i *instrumented) SelectMessages(ctx context.Context, tenantID, ticketID string) ([]models.Message, error) {
	i.msgSelects.Add(1)
	return i.Memory.SelectMessages(ctx, tenantID, ticketID)
}

func (i *instrumented) Changes(ctx context.Context) (<-chan collection.ChangeEvent, error) {
	if i.feedErr != nil {
		return nil, i.feedErr
	}
	return i.Memory.Changes(ctx)
}

func newTestStore(t *testing.T, pageSize int) (*Store, *instrumented) {
	t.Helper()
	remote := &instrumented{Memory: collection.NewMemory()}
	resolver := views.NewResolver(remote, nil, time.Minute)
	return NewStore(remote, resolver, Options{PageSize: pageSize}), remote
}

// seed inserts a ticket with a deterministic updated_at so ordering
// assertions are stable. Smaller age means more recent.
func seed(t *testing.T, m *collection.Memory, id, status string, assignee, teamID *string, age time.Duration) {
	t.Helper()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-age)
	err := m.InsertTicket(context.Background(), &models.Ticket{
		ID:         id,
		TenantID:   testTenant,
		Subject:    "ticket " + id,
		Status:     status,
		Priority:   models.PriorityNormal,
		AssignedTo: assignee,
		TeamID:     teamID,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	})
	require.NoError(t, err)
}

func ticketIDs(list []models.Ticket) []string {
	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	return ids
}

func strPtr(s string) *string { return &s }
