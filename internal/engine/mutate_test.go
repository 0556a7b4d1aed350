package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/models"
	"github.com/deskd-io/deskd/internal/notify"
	"github.com/deskd-io/deskd/internal/views"
)

func TestCreateTicketDefaultsAndNotifies(t *testing.T) {
	remote := &instrumented{Memory: collection.NewMemory()}
	resolver := views.NewResolver(remote, nil, time.Minute)
	rec := &notify.Recorder{}
	store := NewStore(remote, resolver, Options{PageSize: 25, Notifier: rec})
	ctx := context.Background()

	created, err := store.CreateTicket(ctx, testTenant, models.CreateTicketRequest{
		Subject:       "VPN down",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Body:          "cannot connect since this morning",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusOpen, created.Status)
	assert.Equal(t, models.PriorityNormal, created.Priority)
	assert.Nil(t, created.AssignedTo)

	// The body seeds the thread as a customer message.
	msgs, err := remote.Memory.SelectMessages(ctx, testTenant, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsCustomer)
	assert.Equal(t, "cannot connect since this morning", msgs[0].Body)

	// Notification is fire-and-forget, so it lands asynchronously.
	require.Eventually(t, func() bool { return rec.Count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, created.ID, rec.Tickets[0].ID)
}

func TestCreateTicketValidation(t *testing.T) {
	store, _ := newTestStore(t, 25)
	ctx := context.Background()

	_, err := store.CreateTicket(ctx, "", models.CreateTicketRequest{Subject: "x"})
	assert.Error(t, err)

	_, err = store.CreateTicket(ctx, testTenant, models.CreateTicketRequest{})
	assert.Error(t, err)
}

func TestAddMessageAgentReplyAssignsAndTransitions(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)

	id, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID: "t1",
		AuthorID: strPtr(testAgent),
		Body:     "on it",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	require.NotNil(t, after.AssignedTo)
	assert.Equal(t, testAgent, *after.AssignedTo)
	assert.Equal(t, models.StatusPending, after.Status)
}

func TestAddMessageInternalNoteHasNoSideEffects(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID:       "t1",
		AuthorID:       strPtr(testAgent),
		Body:           "customer sounded upset, handle with care",
		IsInternalNote: true,
	})
	require.NoError(t, err)

	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Nil(t, after.AssignedTo)
	assert.Equal(t, models.StatusOpen, after.Status)
}

func TestAddMessageCustomerHasNoSideEffects(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID:   "t1",
		Body:       "any update?",
		IsCustomer: true,
	})
	require.NoError(t, err)

	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Nil(t, after.AssignedTo)
	assert.Equal(t, models.StatusOpen, after.Status)
}

func TestAddMessageReplyOnResolvedKeepsStatus(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusResolved, strPtr("agent-2"), nil, time.Hour)

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID: "t1",
		AuthorID: strPtr(testAgent),
		Body:     "following up",
	})
	require.NoError(t, err)

	// Auto-assign still runs; the status transition only fires while
	// the ticket awaits its first reply.
	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	require.NotNil(t, after.AssignedTo)
	assert.Equal(t, testAgent, *after.AssignedTo)
	assert.Equal(t, models.StatusResolved, after.Status)
}

func TestAddMessageLegacyNewTransitions(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusNew, nil, nil, time.Hour)

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID: "t1",
		AuthorID: strPtr(testAgent),
		Body:     "taking this",
	})
	require.NoError(t, err)

	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, after.Status)
}

func TestAddMessageMarkdownRenderedAndSanitized(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID:   "t1",
		Body:       "**restart** the router <script>alert(1)</script>",
		IsCustomer: true,
		Markdown:   true,
	})
	require.NoError(t, err)

	msgs, err := remote.Memory.SelectMessages(ctx, testTenant, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "<strong>restart</strong>")
	assert.NotContains(t, msgs[0].Body, "<script>")
}

func TestAddMessageRequiresTicket(t *testing.T) {
	store, _ := newTestStore(t, 25)

	_, err := store.AddMessage(context.Background(), testTenant, models.CreateMessageRequest{
		Body: "orphan",
	})
	assert.Error(t, err)
}

func TestAddMessageRefreshesSelectedThread(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewAll,
	}))
	require.NoError(t, store.SelectTicket(ctx, "t1"))

	_, err := store.AddMessage(ctx, testTenant, models.CreateMessageRequest{
		TicketID:   "t1",
		Body:       "hello",
		IsCustomer: true,
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hello", snap.Messages[0].Body)
}

func TestUpdateTicketStampsResolvedAt(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusPending, strPtr(testAgent), nil, time.Hour)

	require.NoError(t, store.UpdateTicket(ctx, testTenant, "t1", models.TicketPatch{
		Status: strPtr(models.StatusResolved),
	}))
	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, after.Status)
	require.NotNil(t, after.ResolvedAt)

	// Reopening clears the stamp.
	require.NoError(t, store.UpdateTicket(ctx, testTenant, "t1", models.TicketPatch{
		Status: strPtr(models.StatusOpen),
	}))
	after, err = remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, after.Status)
	assert.Nil(t, after.ResolvedAt)
}

func TestUpdateTicketUnassign(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, strPtr(testAgent), nil, time.Hour)

	require.NoError(t, store.UpdateTicket(ctx, testTenant, "t1", models.TicketPatch{
		Unassign: true,
	}))
	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Nil(t, after.AssignedTo)
}

func TestUpdateTicketEmptyPatchIsNoOp(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusOpen, nil, nil, time.Hour)
	before, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateTicket(ctx, testTenant, "t1", models.TicketPatch{}))

	after, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
}

func TestUpdateTicketNotFound(t *testing.T) {
	store, _ := newTestStore(t, 25)

	err := store.UpdateTicket(context.Background(), testTenant, "missing", models.TicketPatch{
		Status: strPtr(models.StatusOpen),
	})
	assert.ErrorIs(t, err, collection.ErrNotFound)
}

func TestDeleteTicketRemovesThreadAndClearsSelection(t *testing.T) {
	store, remote := newTestStore(t, 25)
	ctx := context.Background()
	seed(t, remote.Memory, "t1", models.StatusArchived, nil, nil, time.Hour)
	require.NoError(t, remote.Memory.InsertMessage(ctx, &models.Message{
		ID: "m1", TicketID: "t1", TenantID: testTenant, Body: "bye", IsCustomer: true,
	}))

	require.NoError(t, store.FetchTickets(ctx, Filters{
		TenantID: testTenant, UserID: testAgent, View: models.ViewArchived,
	}))
	require.NoError(t, store.SelectTicket(ctx, "t1"))

	require.NoError(t, store.DeleteTicket(ctx, testTenant, "t1"))

	snap := store.Snapshot()
	assert.Empty(t, snap.SelectedID)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Tickets)

	_, err := remote.Memory.GetTicket(ctx, testTenant, "t1")
	assert.ErrorIs(t, err, collection.ErrNotFound)
	msgs, err := remote.Memory.SelectMessages(ctx, testTenant, "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
