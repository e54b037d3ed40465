// Package notifytest provides a synchronous notify.Sender for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/letterforge/letterforge/internal/notify"
)

// Recorder captures side effects instead of sending them.
type Recorder struct {
	mu       sync.Mutex
	messages []notify.Message
	contacts []notify.Contact
	removed  []string
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// SyncContact records contact.
func (r *Recorder) SyncContact(_ context.Context, contact notify.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts = append(r.contacts, contact)
}

// RemoveContact records email.
func (r *Recorder) RemoveContact(_ context.Context, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, email)
}

// Messages returns the recorded emails.
func (r *Recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}

// Templates returns the template of each recorded email, in order.
func (r *Recorder) Templates() []notify.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Template, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Template)
	}
	return out
}

// Contacts returns the recorded contact upserts.
func (r *Recorder) Contacts() []notify.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Contact(nil), r.contacts...)
}

// Removed returns the emails of removed contacts.
func (r *Recorder) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

// Reset clears everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.contacts = nil
	r.removed = nil
}

var _ notify.Sender = (*Recorder)(nil)
