package collection

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskd-io/deskd/internal/models"
)

// Memory implements Store with in-memory maps. It backs dev mode and
// tests; production uses the Postgres implementation.
type Memory struct {
	mu       sync.RWMutex
	tickets  map[string]*models.Ticket
	messages map[string][]models.Message // keyed by ticket ID
	teams    map[string]*models.Team
	members  []models.TeamMember
	subs     []chan ChangeEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tickets:  make(map[string]*models.Ticket),
		messages: make(map[string][]models.Message),
		teams:    make(map[string]*models.Team),
	}
}

// AddTeam seeds a team.
func (m *Memory) AddTeam(t models.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := t
	m.teams[t.ID] = &cp
}

// AddTeamMember seeds a team membership.
func (m *Memory) AddTeamMember(tm models.TeamMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, tm)
}

func (m *Memory) SelectTickets(ctx context.Context, q Query) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := make([]models.Ticket, 0)
	for _, t := range m.tickets {
		if matchTicket(t, q.Filter) {
			matched = append(matched, *t)
		}
	}
	m.mu.RUnlock()

	sortTickets(matched, q.OrderBy, q.Desc)

	if q.Offset >= len(matched) {
		return []models.Ticket{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *Memory) TicketsByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.tickets[id]; ok && t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *Memory) GetTicket(ctx context.Context, tenantID, id string) (*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) CountTickets(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tickets {
		if matchTicket(t, f) {
			n++
		}
	}
	return n, nil
}

// SearchTickets ranks by naive term frequency over subject, customer
// fields and message bodies. Good enough for dev mode; Postgres does
// the real ts_rank ordering.
func (m *Memory) SearchTickets(ctx context.Context, tenantID, term string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return []string{}, nil
	}
	type hit struct {
		id      string
		score   int
		updated time.Time
	}
	m.mu.RLock()
	hits := make([]hit, 0)
	for _, t := range m.tickets {
		if t.TenantID != tenantID {
			continue
		}
		score := 2 * strings.Count(strings.ToLower(t.Subject), term)
		score += strings.Count(strings.ToLower(t.CustomerName), term)
		score += strings.Count(strings.ToLower(t.CustomerEmail), term)
		for _, msg := range m.messages[t.ID] {
			score += strings.Count(strings.ToLower(msg.Body), term)
		}
		if score > 0 {
			hits = append(hits, hit{id: t.ID, score: score, updated: t.UpdatedAt})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].updated.After(hits[j].updated)
	})
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (m *Memory) InsertTicket(ctx context.Context, t *models.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	cp := *t
	m.mu.Lock()
	m.tickets[t.ID] = &cp
	m.mu.Unlock()
	m.emit(ChangeEvent{Table: TableTickets, Event: EventInsert, RowID: t.ID, TicketID: t.ID, TenantID: t.TenantID})
	return nil
}

func (m *Memory) UpdateTicket(ctx context.Context, tenantID, id string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	t, ok := m.tickets[id]
	if !ok || t.TenantID != tenantID {
		m.mu.Unlock()
		return ErrNotFound
	}
	applyTicketPayload(t, payload)
	t.UpdatedAt = time.Now()
	m.mu.Unlock()
	m.emit(ChangeEvent{Table: TableTickets, Event: EventUpdate, RowID: id, TicketID: id, TenantID: tenantID})
	return nil
}

func (m *Memory) DeleteTicket(ctx context.Context, tenantID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	t, ok := m.tickets[id]
	if !ok || t.TenantID != tenantID {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.tickets, id)
	m.mu.Unlock()
	m.emit(ChangeEvent{Table: TableTickets, Event: EventDelete, RowID: t.ID, TicketID: t.ID, TenantID: tenantID})
	return nil
}

func (m *Memory) SelectMessages(ctx context.Context, tenantID, ticketID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[ticketID]
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.TenantID == tenantID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.messages[msg.TicketID] = append(m.messages[msg.TicketID], *msg)
	m.mu.Unlock()
	m.emit(ChangeEvent{Table: TableMessages, Event: EventInsert, RowID: msg.ID, TicketID: msg.TicketID, TenantID: msg.TenantID})
	return nil
}

func (m *Memory) DeleteTicketMessages(ctx context.Context, tenantID, ticketID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.messages, ticketID)
	m.mu.Unlock()
	m.emit(ChangeEvent{Table: TableMessages, Event: EventDelete, RowID: ticketID, TicketID: ticketID, TenantID: tenantID})
	return nil
}

func (m *Memory) TeamIDsForMember(ctx context.Context, tenantID, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for _, tm := range m.members {
		if tm.TenantID == tenantID && tm.UserID == userID {
			ids = append(ids, tm.TeamID)
		}
	}
	return ids, nil
}

func (m *Memory) TeamIDsManagedBy(ctx context.Context, tenantID, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for _, t := range m.teams {
		if t.TenantID == tenantID && t.ManagerID != nil && *t.ManagerID == userID {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (m *Memory) Changes(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 256)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		// Close under the lock so emit can never send on a closed
		// channel; its sends happen under the read side of the same lock.
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) emit(ev ChangeEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default: // slow consumer, drop
		}
	}
}

func applyTicketPayload(t *models.Ticket, payload map[string]any) {
	setString := func(dst *string, v any) {
		if s, ok := v.(string); ok {
			*dst = s
		}
	}
	setNullable := func(dst **string, v any) {
		switch s := v.(type) {
		case nil:
			*dst = nil
		case string:
			cp := s
			*dst = &cp
		case *string:
			*dst = s
		}
	}
	for col, v := range payload {
		switch col {
		case "subject":
			setString(&t.Subject, v)
		case "status":
			setString(&t.Status, v)
		case "priority":
			setString(&t.Priority, v)
		case "assigned_to":
			setNullable(&t.AssignedTo, v)
		case "team_id":
			setNullable(&t.TeamID, v)
		case "customer_name":
			setString(&t.CustomerName, v)
		case "customer_email":
			setString(&t.CustomerEmail, v)
		case "resolved_at":
			switch ts := v.(type) {
			case nil:
				t.ResolvedAt = nil
			case time.Time:
				cp := ts
				t.ResolvedAt = &cp
			case *time.Time:
				t.ResolvedAt = ts
			}
		}
	}
}

func matchTicket(t *models.Ticket, f Filter) bool {
	for _, c := range f {
		v := ticketColumn(t, c.Column)
		switch c.Op {
		case OpEq:
			if v == nil || *v != c.Value.(string) {
				return false
			}
		case OpNotEq:
			// NULL columns pass, matching SQL-less stores like the
			// realtime filter semantics the engine expects.
			if v != nil && *v == c.Value.(string) {
				return false
			}
		case OpIsNull:
			if v != nil {
				return false
			}
		case OpIn:
			vals, _ := c.Value.([]string)
			if v == nil {
				return false
			}
			found := false
			for _, want := range vals {
				if *v == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func ticketColumn(t *models.Ticket, column string) *string {
	switch column {
	case "id":
		return &t.ID
	case "tenant_id":
		return &t.TenantID
	case "subject":
		return &t.Subject
	case "status":
		return &t.Status
	case "priority":
		return &t.Priority
	case "assigned_to":
		return t.AssignedTo
	case "team_id":
		return t.TeamID
	case "customer_name":
		return &t.CustomerName
	case "customer_email":
		return &t.CustomerEmail
	}
	return nil
}

func sortTickets(list []models.Ticket, orderBy string, desc bool) {
	if orderBy == "" {
		orderBy = "updated_at"
		desc = true
	}
	sort.SliceStable(list, func(i, j int) bool {
		var less bool
		switch orderBy {
		case "created_at":
			less = list[i].CreatedAt.Before(list[j].CreatedAt)
		case "subject":
			less = list[i].Subject < list[j].Subject
		default:
			less = list[i].UpdatedAt.Before(list[j].UpdatedAt)
		}
		if desc {
			return !less && !equalKey(list[i], list[j], orderBy)
		}
		return less
	})
}

func equalKey(a, b models.Ticket, orderBy string) bool {
	switch orderBy {
	case "created_at":
		return a.CreatedAt.Equal(b.CreatedAt)
	case "subject":
		return a.Subject == b.Subject
	default:
		return a.UpdatedAt.Equal(b.UpdatedAt)
	}
}
