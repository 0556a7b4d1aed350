package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskd-io/deskd/internal/models"
)

func TestListenerTicketChangeRefetchesCurrentView(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seed(t, remote.Memory, "a", models.StatusOpen, nil, nil, time.Hour)

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	require.Len(t, store.Snapshot().Tickets, 1)
	require.NoError(t, store.RunListener(ctx))

	// Another agent's insert arrives over the change feed.
	seed(t, remote.Memory, "b", models.StatusOpen, nil, nil, 0)

	require.Eventually(t, func() bool {
		return len(store.Snapshot().Tickets) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", store.Snapshot().Tickets[0].ID)
}

func TestListenerRefetchReadsCurrentFilters(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seed(t, remote.Memory, "a", models.StatusOpen, nil, nil, time.Hour)

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	require.NoError(t, store.RunListener(ctx))

	// Switch to the archived view, then let an invalidation land: the
	// refetch must use the filters as they are now, not the ones from
	// when the listener started.
	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewArchived,
	}))
	seed(t, remote.Memory, "arch", models.StatusArchived, nil, nil, 0)

	require.Eventually(t, func() bool {
		ids := ticketIDs(store.Snapshot().Tickets)
		return len(ids) == 1 && ids[0] == "arch"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ViewArchived, store.Snapshot().Filters.View)
}

func TestListenerMessageOnSelectedTicketRefreshesThread(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seed(t, remote.Memory, "a", models.StatusOpen, nil, nil, time.Hour)

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	require.NoError(t, store.SelectTicket(ctx, "a"))
	require.NoError(t, store.RunListener(ctx))

	require.NoError(t, remote.Memory.InsertMessage(ctx, &models.Message{
		ID: "m1", TicketID: "a", TenantID: testTenant, Body: "ping", IsCustomer: true,
	}))

	require.Eventually(t, func() bool {
		return len(store.Snapshot().Messages) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", store.Snapshot().Messages[0].Body)
}

func TestListenerMessageOnOtherTicketIgnored(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seed(t, remote.Memory, "a", models.StatusOpen, nil, nil, time.Hour)
	seed(t, remote.Memory, "b", models.StatusOpen, nil, nil, 2*time.Hour)

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	require.NoError(t, store.SelectTicket(ctx, "a"))
	require.NoError(t, store.RunListener(ctx))
	fetchesBefore := remote.msgSelects.Load()

	// A message on an unselected ticket must not trigger a thread fetch.
	require.NoError(t, remote.Memory.InsertMessage(ctx, &models.Message{
		ID: "m1", TicketID: "b", TenantID: testTenant, Body: "elsewhere", IsCustomer: true,
	}))
	// Then one on the selected ticket does; once that lands we know the
	// earlier event has been consumed too.
	require.NoError(t, remote.Memory.InsertMessage(ctx, &models.Message{
		ID: "m2", TicketID: "a", TenantID: testTenant, Body: "here", IsCustomer: true,
	}))

	require.Eventually(t, func() bool {
		return len(store.Snapshot().Messages) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, fetchesBefore+1, remote.msgSelects.Load())
	assert.Equal(t, "here", store.Snapshot().Messages[0].Body)
}

func TestRunListenerFeedUnavailable(t *testing.T) {
	store, remote := newTestStore(t, 25)
	remote.feedErr = errors.New("listen refused")
	seed(t, remote.Memory, "a", models.StatusOpen, nil, nil, 0)

	err := store.RunListener(context.Background())
	require.Error(t, err)

	// The engine still works without live invalidation.
	require.NoError(t, store.FetchTickets(context.Background(), Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	assert.Len(t, store.Snapshot().Tickets, 1)
}
