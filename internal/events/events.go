// Package events publishes server lifecycle events for downstream consumers
package events

import (
	"context"
	"sync"
	"time"
)

// Event types
const (
	ServerCreated  = "server.created"
	ServerUpdated  = "server.updated"
	ServerDeleted  = "server.deleted"
	ServerRenewed  = "server.renewed"
	PurgeCompleted = "purge.completed"
	PurgeFailed    = "purge.failed"
)

// Event is a lifecycle notification
type Event struct {
	Type      string         `json:"type"`
	ServerID  string         `json:"server_id,omitempty"`
	RemoteID  int            `json:"remote_id,omitempty"`
	OwnerID   string         `json:"owner_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher delivers events. Publishing is fire-and-forget: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of what was published
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every published event, in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
