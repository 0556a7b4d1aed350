// Package collection abstracts the remote ticket store: filtered and
// range-limited reads, approximate counts, a server-side ranked search
// procedure, row mutations, and a change-event feed for live invalidation.
package collection

import (
	"context"
	"errors"

	"github.com/deskd-io/deskd/internal/models"
)

// Tables carrying change events.
const (
	TableTickets  = "tickets"
	TableMessages = "messages"
)

// Change event types, matching the wire names of the underlying feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("collection: not found")

// Op is a filter comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNotEq  Op = "neq"
	OpIsNull Op = "is_null"
	OpIn     Op = "in"
)

// Cond is a single column predicate. A Filter is the conjunction of its
// conditions; there is no OR at this level, the view resolver never
// needs one (team membership unions become a single IN).
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is an AND-combined predicate set over one table.
type Filter []Cond

// Eq matches rows where column equals value.
func Eq(column string, value any) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

// NotEq matches rows where column differs from value. NULL columns match.
func NotEq(column string, value any) Cond { return Cond{Column: column, Op: OpNotEq, Value: value} }

// IsNull matches rows where column is NULL.
func IsNull(column string) Cond { return Cond{Column: column, Op: OpIsNull} }

// In matches rows where column is one of values.
func In(column string, values []string) Cond {
	return Cond{Column: column, Op: OpIn, Value: values}
}

// And returns f with extra conditions appended.
func (f Filter) And(conds ...Cond) Filter {
	out := make(Filter, 0, len(f)+len(conds))
	out = append(out, f...)
	return append(out, conds...)
}

// Query is a filtered, ordered, range-limited read.
type Query struct {
	Filter  Filter
	OrderBy string // column name; empty means store default
	Desc    bool
	Offset  int
	Limit   int // 0 means no limit
}

// ChangeEvent is one row-level change pushed by the store. The feed is
// table-wide; consumers filter client-side. TicketID is set for message
// events so the thread of the open ticket can be invalidated, and
// TenantID routes the event to the owning tenant's engine.
type ChangeEvent struct {
	Table    string `json:"table"`
	Event    string `json:"event"`
	RowID    string `json:"id"`
	TicketID string `json:"ticket_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Store is the remote collection adapter consumed by the sync engine.
// All blocking calls take a context; implementations inherit transport
// timeouts and perform no retries.
type Store interface {
	// SelectTickets returns the tickets matching q in q's order.
	SelectTickets(ctx context.Context, q Query) ([]models.Ticket, error)
	// TicketsByIDs returns the given tickets in unspecified order.
	TicketsByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Ticket, error)
	// GetTicket returns one ticket or ErrNotFound.
	GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error)
	// CountTickets returns the number of tickets matching f.
	CountTickets(ctx context.Context, f Filter) (int, error)
	// SearchTickets runs the server-side ranked full-text search and
	// returns matching ticket IDs, best match first.
	SearchTickets(ctx context.Context, tenantID, term string) ([]string, error)

	InsertTicket(ctx context.Context, t *models.Ticket) error
	// UpdateTicket applies the column payload to one row. A nil payload
	// value writes NULL.
	UpdateTicket(ctx context.Context, tenantID, id string, payload map[string]any) error
	DeleteTicket(ctx context.Context, tenantID, id string) error

	// SelectMessages returns a ticket's thread, oldest first.
	SelectMessages(ctx context.Context, tenantID, ticketID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, m *models.Message) error
	// DeleteTicketMessages removes a ticket's whole thread. The store
	// abstraction has no cascade; callers delete messages before the ticket.
	DeleteTicketMessages(ctx context.Context, tenantID, ticketID string) error

	// TeamIDsForMember returns the teams the user belongs to.
	TeamIDsForMember(ctx context.Context, tenantID, userID string) ([]string, error)
	// TeamIDsManagedBy returns the teams the user manages.
	TeamIDsManagedBy(ctx context.Context, tenantID, userID string) ([]string, error)

	// Changes subscribes to the table-wide change feed for tickets and
	// messages. The channel closes when ctx is cancelled. Establishing
	// the subscription may fail; callers are expected to degrade to
	// manual refetching.
	Changes(ctx context.Context) (<-chan ChangeEvent, error)
}
