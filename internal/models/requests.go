package models

// CreateTicketRequest carries the fields a caller supplies when opening
// a new ticket. Tenant scope and defaults are filled in by the mutation
// layer.
type CreateTicketRequest struct {
	Subject       string  `json:"subject" binding:"required,min=1,max=255"`
	Priority      string  `json:"priority,omitempty"`
	CustomerName  string  `json:"customer_name,omitempty"`
	CustomerEmail string  `json:"customer_email,omitempty"`
	TeamID        *string `json:"team_id,omitempty"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
	Body          string  `json:"body,omitempty"`
}

// TicketPatch is a partial update. Nil fields are left untouched.
// Unassign clears assigned_to; it wins over AssignedTo when both are set.
type TicketPatch struct {
	Subject    *string `json:"subject,omitempty"`
	Status     *string `json:"status,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	TeamID     *string `json:"team_id,omitempty"`
	Unassign   bool    `json:"unassign,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TicketPatch) IsEmpty() bool {
	return p.Subject == nil && p.Status == nil && p.Priority == nil &&
		p.AssignedTo == nil && p.TeamID == nil && !p.Unassign
}

// CreateMessageRequest carries a new conversation entry. Markdown bodies
// are rendered to HTML and sanitized before storage.
type CreateMessageRequest struct {
	TicketID       string  `json:"ticket_id,omitempty"`
	AuthorID       *string `json:"author_id,omitempty"`
	Body           string  `json:"body" binding:"required"`
	IsCustomer     bool    `json:"is_customer,omitempty"`
	IsInternalNote bool    `json:"is_internal_note,omitempty"`
	Markdown       bool    `json:"markdown,omitempty"`
}
