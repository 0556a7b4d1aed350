package models

import (
	"time"
)

// Ticket statuses. The column is an open string enum so unknown values
// round-trip untouched; these are the ones this module reasons about.
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
	StatusArchived = "archived"

	// StatusNew is a legacy value still present in older rows. It is
	// treated like StatusOpen on read and never written back.
	StatusNew = "new"
)

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Ticket represents a support ticket. IDs are UUID strings assigned by
// the mutation layer; every ticket belongs to exactly one tenant.
type Ticket struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	Subject       string     `json:"subject" db:"subject"`
	Status        string     `json:"status" db:"status"`
	Priority      string     `json:"priority" db:"priority"`
	AssignedTo    *string    `json:"assigned_to,omitempty" db:"assigned_to"`
	TeamID        *string    `json:"team_id,omitempty" db:"team_id"`
	CustomerName  string     `json:"customer_name" db:"customer_name"`
	CustomerEmail string     `json:"customer_email" db:"customer_email"`
	TeamName      *string    `json:"team_name,omitempty" db:"team_name"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsArchived returns true if the ticket is archived.
func (t *Ticket) IsArchived() bool {
	return t.Status == StatusArchived
}

// IsAssignedTo returns true if the ticket is assigned to the given user.
func (t *Ticket) IsAssignedTo(userID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// AwaitsFirstReply reports whether an agent reply should trigger the
// open -> pending transition. Legacy "new" rows behave like "open".
func (t *Ticket) AwaitsFirstReply() bool {
	return t.Status == StatusOpen || t.Status == StatusNew
}

// Message represents a single entry in a ticket's conversation thread.
// IsCustomer and IsInternalNote partition messages into customer mail,
// agent replies (both false) and internal-only notes.
type Message struct {
	ID             string    `json:"id" db:"id"`
	TicketID       string    `json:"ticket_id" db:"ticket_id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	AuthorID       *string   `json:"author_id,omitempty" db:"author_id"`
	Body           string    `json:"body" db:"body"`
	IsCustomer     bool      `json:"is_customer" db:"is_customer"`
	IsInternalNote bool      `json:"is_internal_note" db:"is_internal_note"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsAgentReply returns true for customer-visible messages written by an
// agent. Only these carry the auto-assign and auto-transition side effects.
func (m *Message) IsAgentReply() bool {
	return !m.IsCustomer && !m.IsInternalNote
}

// Team represents a support team within a tenant.
type Team struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	ManagerID *string   `json:"manager_id,omitempty" db:"manager_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TeamMember links a user to a team.
type TeamMember struct {
	TeamID   string `json:"team_id" db:"team_id"`
	UserID   string `json:"user_id" db:"user_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
}

// NullableString converts a string to a nullable string for payloads.
func NullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// DerefString safely dereferences a string pointer.
func DerefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
