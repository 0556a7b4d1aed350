package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/deskd-io/deskd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// notifyChannel is the pg_notify channel the schema triggers publish to.
const notifyChannel = "deskd_changes"

const ticketColumns = `id, tenant_id, subject, status, priority, assigned_to, team_id,
	customer_name, customer_email, team_name, created_at, updated_at, resolved_at`

const messageColumns = `id, ticket_id, tenant_id, author_id, body, is_customer,
	is_internal_note, created_at`

// Postgres implements Store on PostgreSQL. Reads and writes go through
// sqlx; the change feed rides LISTEN/NOTIFY via lib/pq, fed by triggers
// installed with the schema.
type Postgres struct {
	db  *sqlx.DB
	dsn string
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db, dsn: dsn}, nil
}

// NewPostgresFromDB wraps an existing connection (tests).
func NewPostgresFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema installs tables, indexes, the search procedure and the
// notify triggers. Statements are idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// compileFilter turns a Filter into a WHERE fragment with ? placeholders.
// IN conditions keep their slice argument for sqlx.In expansion.
func compileFilter(f Filter) (string, []any, error) {
	if len(f) == 0 {
		return "TRUE", nil, nil
	}
	exprs := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for _, c := range f {
		switch c.Op {
		case OpEq:
			exprs = append(exprs, c.Column+" = ?")
			args = append(args, c.Value)
		case OpNotEq:
			// IS DISTINCT FROM so NULL columns pass, same as the
			// in-memory evaluator.
			exprs = append(exprs, c.Column+" IS DISTINCT FROM ?")
			args = append(args, c.Value)
		case OpIsNull:
			exprs = append(exprs, c.Column+" IS NULL")
		case OpIn:
			exprs = append(exprs, c.Column+" IN (?)")
			args = append(args, c.Value)
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", c.Op)
		}
	}
	return strings.Join(exprs, " AND "), args, nil
}

// orderColumn whitelists sortable columns; anything else falls back to
// updated_at, the only ordering the engine guarantees across pages.
func orderColumn(name string) string {
	switch name {
	case "created_at", "subject", "updated_at":
		return name
	}
	return "updated_at"
}

func (p *Postgres) SelectTickets(ctx context.Context, q Query) ([]models.Ticket, error) {
	where, args, err := compileFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM tickets WHERE %s ORDER BY %s %s",
		ticketColumns, where, orderColumn(q.OrderBy), dir)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	tickets := []models.Ticket{}
	if err := p.db.SelectContext(ctx, &tickets, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	return tickets, nil
}

func (p *Postgres) TicketsByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return []models.Ticket{}, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT %s FROM tickets WHERE tenant_id = ? AND id IN (?)", ticketColumns),
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("tickets by ids: %w", err)
	}
	tickets := []models.Ticket{}
	if err := p.db.SelectContext(ctx, &tickets, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("tickets by ids: %w", err)
	}
	return tickets, nil
}

func (p *Postgres) GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	var t models.Ticket
	query := p.db.Rebind(fmt.Sprintf(
		"SELECT %s FROM tickets WHERE tenant_id = ? AND id = ?", ticketColumns))
	err := p.db.GetContext(ctx, &t, query, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return &t, nil
}

func (p *Postgres) CountTickets(ctx context.Context, f Filter) (int, error) {
	where, args, err := compileFilter(f)
	if err != nil {
		return 0, err
	}
	query, args, err := sqlx.In("SELECT COUNT(*) FROM tickets WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	var n int
	if err := p.db.GetContext(ctx, &n, p.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

func (p *Postgres) SearchTickets(ctx context.Context, tenantID, term string) ([]string, error) {
	ids := []string{}
	query := p.db.Rebind("SELECT ticket_id FROM search_tickets(?, ?)")
	if err := p.db.SelectContext(ctx, &ids, query, tenantID, term); err != nil {
		return nil, fmt.Errorf("search tickets: %w", err)
	}
	return ids, nil
}

func (p *Postgres) InsertTicket(ctx context.Context, t *models.Ticket) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	query := p.db.Rebind(fmt.Sprintf(`INSERT INTO tickets (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, ticketColumns))
	_, err := p.db.ExecContext(ctx, query,
		t.ID, t.TenantID, t.Subject, t.Status, t.Priority, t.AssignedTo, t.TeamID,
		t.CustomerName, t.CustomerEmail, t.TeamName, t.CreatedAt, t.UpdatedAt, t.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTicket(ctx context.Context, tenantID, id string, payload map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	// Deterministic column order keeps the statement stable for tests.
	cols := make([]string, 0, len(payload))
	for col := range payload {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+3)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, payload[col])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())
	args = append(args, tenantID, id)

	query := p.db.Rebind(fmt.Sprintf(
		"UPDATE tickets SET %s WHERE tenant_id = ? AND id = ?", strings.Join(sets, ", ")))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteTicket(ctx context.Context, tenantID, id string) error {
	query := p.db.Rebind("DELETE FROM tickets WHERE tenant_id = ? AND id = ?")
	res, err := p.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SelectMessages(ctx context.Context, tenantID, ticketID string) ([]models.Message, error) {
	msgs := []models.Message{}
	query := p.db.Rebind(fmt.Sprintf(`SELECT %s FROM messages
		WHERE tenant_id = ? AND ticket_id = ? ORDER BY created_at ASC`, messageColumns))
	if err := p.db.SelectContext(ctx, &msgs, query, tenantID, ticketID); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return msgs, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	query := p.db.Rebind(fmt.Sprintf(`INSERT INTO messages (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, messageColumns))
	_, err := p.db.ExecContext(ctx, query,
		m.ID, m.TicketID, m.TenantID, m.AuthorID, m.Body, m.IsCustomer, m.IsInternalNote, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTicketMessages(ctx context.Context, tenantID, ticketID string) error {
	query := p.db.Rebind("DELETE FROM messages WHERE tenant_id = ? AND ticket_id = ?")
	if _, err := p.db.ExecContext(ctx, query, tenantID, ticketID); err != nil {
		return fmt.Errorf("delete ticket messages: %w", err)
	}
	return nil
}

func (p *Postgres) TeamIDsForMember(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids := []string{}
	query := p.db.Rebind("SELECT team_id FROM team_members WHERE tenant_id = ? AND user_id = ?")
	if err := p.db.SelectContext(ctx, &ids, query, tenantID, userID); err != nil {
		return nil, fmt.Errorf("team membership: %w", err)
	}
	return ids, nil
}

func (p *Postgres) TeamIDsManagedBy(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids := []string{}
	query := p.db.Rebind("SELECT id FROM teams WHERE tenant_id = ? AND manager_id = ?")
	if err := p.db.SelectContext(ctx, &ids, query, tenantID, userID); err != nil {
		return nil, fmt.Errorf("managed teams: %w", err)
	}
	return ids, nil
}

// Changes opens a LISTEN subscription on the notify channel and decodes
// trigger payloads into ChangeEvents. lib/pq reconnects on its own; a
// nil notification marks a reconnect and is skipped (a refetch will
// follow on the next real event anyway).
func (p *Postgres) Changes(ctx context.Context) (<-chan ChangeEvent, error) {
	if p.dsn == "" {
		return nil, fmt.Errorf("change feed: no DSN configured")
	}
	listener := pq.NewListener(p.dsn, time.Second, 30*time.Second,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("change feed listener: %v", err)
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("change feed: %w", err)
	}

	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					continue
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					log.Printf("change feed: bad payload %q: %v", n.Extra, err)
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
