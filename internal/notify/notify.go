// Package notify is the hook the mutation façade calls after a ticket
// is created. Delivery itself (mail, chat, push) lives elsewhere; this
// package only routes to whatever provider is installed.
package notify

import (
	"context"
	"log"
	"sync"

	"github.com/deskd-io/deskd/internal/models"
)

// Notifier receives new-ticket events. Calls are fire-and-forget from
// the façade's point of view; errors are logged and swallowed there.
type Notifier interface {
	NewTicket(ctx context.Context, t models.Ticket) error
}

var (
	mu      sync.RWMutex
	current Notifier = LogNotifier{}
)

// Set replaces the global notifier and returns the previous one. A nil
// notifier restores the logging default.
func Set(n Notifier) Notifier {
	mu.Lock()
	defer mu.Unlock()
	prev := current
	if n == nil {
		current = LogNotifier{}
	} else {
		current = n
	}
	return prev
}

// Get returns the global notifier.
func Get() Notifier {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// LogNotifier writes new-ticket events to the process log. It is the
// default provider and the whole of dev-mode "delivery".
type LogNotifier struct{}

func (LogNotifier) NewTicket(_ context.Context, t models.Ticket) error {
	log.Printf("new ticket %s (%s) for tenant %s", t.ID, t.Subject, t.TenantID)
	return nil
}

// Recorder captures events for tests.
type Recorder struct {
	mu      sync.Mutex
	Tickets []models.Ticket
}

func (r *Recorder) NewTicket(_ context.Context, t models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tickets = append(r.Tickets, t)
	return nil
}

// Count returns how many events were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Tickets)
}
