package engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/deskd-io/deskd/internal/models"
)

// The mutation façade: every write goes through here so the derived
// business rules (auto-assign on reply, open -> pending transition)
// live in one place, and every write ends in a refetch of the current
// view. The façade is permission-agnostic; the caller enforces who may
// do what.
//
// Side effects are sequential writes against the remote collection,
// which offers no multi-statement transaction. A failure partway (say,
// assignment applied but the status update lost) leaves a partially
// applied state; it is logged and repaired by the next write or by a
// human, never rolled back.

var messagePolicy = bluemonday.UGCPolicy()

// CreateTicket inserts a ticket with tenant scope and defaults applied,
// optionally seeds the thread with an initial customer message, pushes
// a fire-and-forget notification and refetches the current view.
func (s *Store) CreateTicket(ctx context.Context, tenantID string, req models.CreateTicketRequest) (*models.Ticket, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("create ticket: tenant required")
	}
	if req.Subject == "" {
		return nil, fmt.Errorf("create ticket: subject required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	t := &models.Ticket{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Subject:       req.Subject,
		Status:        models.StatusOpen,
		Priority:      priority,
		AssignedTo:    req.AssignedTo,
		TeamID:        req.TeamID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
	}
	if err := s.remote.InsertTicket(ctx, t); err != nil {
		mutationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	if req.Body != "" {
		msg := &models.Message{
			ID:         uuid.NewString(),
			TicketID:   t.ID,
			TenantID:   tenantID,
			Body:       messagePolicy.Sanitize(req.Body),
			IsCustomer: true,
		}
		if err := s.remote.InsertMessage(ctx, msg); err != nil {
			// Ticket exists without its opening message; surfaced,
			// not rolled back.
			log.Printf("initial message for ticket %s: %v", t.ID, err)
		}
	}
	mutationsTotal.WithLabelValues("create", "ok").Inc()
	s.notifyNewTicket(*t)
	if err := s.Refetch(ctx); err != nil {
		log.Printf("refetch after create: %v", err)
	}
	return t, nil
}

// UpdateTicket applies a partial update. Setting status to resolved
// stamps resolved_at; leaving resolved clears it. No transition table
// is enforced: any status may be set directly by an agent.
func (s *Store) UpdateTicket(ctx context.Context, tenantID, id string, patch models.TicketPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	payload := make(map[string]any)
	if patch.Subject != nil {
		payload["subject"] = *patch.Subject
	}
	if patch.Priority != nil {
		payload["priority"] = *patch.Priority
	}
	if patch.TeamID != nil {
		payload["team_id"] = *patch.TeamID
	}
	if patch.Unassign {
		payload["assigned_to"] = nil
	} else if patch.AssignedTo != nil {
		payload["assigned_to"] = *patch.AssignedTo
	}
	if patch.Status != nil {
		payload["status"] = *patch.Status
		if *patch.Status == models.StatusResolved {
			payload["resolved_at"] = time.Now()
		} else {
			payload["resolved_at"] = nil
		}
	}
	if err := s.remote.UpdateTicket(ctx, tenantID, id, payload); err != nil {
		mutationsTotal.WithLabelValues("update", "error").Inc()
		return err
	}
	mutationsTotal.WithLabelValues("update", "ok").Inc()
	if err := s.Refetch(ctx); err != nil {
		log.Printf("refetch after update: %v", err)
	}
	return nil
}

// DeleteTicket removes a ticket and its thread. Intended for archived
// tickets only; that rule, like all permissions, belongs to the caller.
func (s *Store) DeleteTicket(ctx context.Context, tenantID, id string) error {
	// No cascade in the collection abstraction: thread first.
	if err := s.remote.DeleteTicketMessages(ctx, tenantID, id); err != nil {
		mutationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	if err := s.remote.DeleteTicket(ctx, tenantID, id); err != nil {
		mutationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	mutationsTotal.WithLabelValues("delete", "ok").Inc()

	s.mu.Lock()
	clearSelection := s.selectedID == id
	s.mu.Unlock()
	if clearSelection {
		if err := s.SelectTicket(ctx, ""); err != nil {
			log.Printf("clear selection after delete: %v", err)
		}
	}
	if err := s.Refetch(ctx); err != nil {
		log.Printf("refetch after delete: %v", err)
	}
	return nil
}

// AddMessage appends to a ticket's thread and returns the new message
// ID. An agent reply (neither customer nor internal note) additionally
// assigns the ticket to its author and, when the ticket is still open,
// moves it to pending. The two side effects are best-effort sequential
// writes.
func (s *Store) AddMessage(ctx context.Context, tenantID string, req models.CreateMessageRequest) (string, error) {
	if req.TicketID == "" {
		return "", fmt.Errorf("add message: ticket required")
	}
	body := req.Body
	if req.Markdown {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(body), &buf); err != nil {
			return "", fmt.Errorf("render message body: %w", err)
		}
		body = buf.String()
	}
	msg := &models.Message{
		ID:             uuid.NewString(),
		TicketID:       req.TicketID,
		TenantID:       tenantID,
		AuthorID:       req.AuthorID,
		Body:           messagePolicy.Sanitize(body),
		IsCustomer:     req.IsCustomer,
		IsInternalNote: req.IsInternalNote,
	}
	if err := s.remote.InsertMessage(ctx, msg); err != nil {
		mutationsTotal.WithLabelValues("add_message", "error").Inc()
		return "", err
	}
	mutationsTotal.WithLabelValues("add_message", "ok").Inc()

	if msg.IsAgentReply() && req.AuthorID != nil {
		s.applyReplySideEffects(ctx, tenantID, req.TicketID, *req.AuthorID)
	}

	if err := s.Refetch(ctx); err != nil {
		log.Printf("refetch after message: %v", err)
	}
	s.mu.Lock()
	selected := s.selectedID
	s.mu.Unlock()
	if selected == req.TicketID {
		if err := s.FetchMessages(ctx, req.TicketID); err != nil {
			log.Printf("thread refetch after message: %v", err)
		}
	}
	return msg.ID, nil
}

// applyReplySideEffects assigns the ticket to the replying agent, then
// auto-transitions open (or legacy new) to pending. Each write stands
// alone; an error is logged and the remaining steps still run.
func (s *Store) applyReplySideEffects(ctx context.Context, tenantID, ticketID, authorID string) {
	if err := s.remote.UpdateTicket(ctx, tenantID, ticketID, map[string]any{"assigned_to": authorID}); err != nil {
		log.Printf("assign on reply for %s: %v", ticketID, err)
	}
	t, err := s.remote.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		log.Printf("status check on reply for %s: %v", ticketID, err)
		return
	}
	if !t.AwaitsFirstReply() {
		return
	}
	if err := s.remote.UpdateTicket(ctx, tenantID, ticketID, map[string]any{"status": models.StatusPending}); err != nil {
		log.Printf("auto transition for %s: %v", ticketID, err)
	}
}
