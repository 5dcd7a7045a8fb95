package stream

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/climastream/weather-stream/internal/alerts"
)

// ErrCapacityExceeded is returned by Register when the registry is full. No
// connection is created in that case.
var ErrCapacityExceeded = errors.New("connection capacity exceeded")

// Status is a connection lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Connection is the registry-visible record of one active stream.
type Connection struct {
	ID           string
	LocationKey  string
	LocationName string
	AlertFilter  alerts.Filter
	CreatedAt    time.Time

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
}

// NewConnection creates a Connection in the Connecting state with a fresh id.
func NewConnection(locationKey, locationName string, filter alerts.Filter) *Connection {
	now := time.Now()
	return &Connection{
		ID:           uuid.NewString(),
		LocationKey:  locationKey,
		LocationName: locationName,
		AlertFilter:  filter,
		CreatedAt:    now,
		status:       StatusConnecting,
		lastActivity: now,
	}
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Touch records activity at the given time.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent emission or external ping.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// markStreaming transitions Connecting -> Streaming. Later states are never
// regressed.
func (c *Connection) markStreaming() {
	c.mu.Lock()
	if c.status == StatusConnecting {
		c.status = StatusStreaming
	}
	c.mu.Unlock()
}

// beginClosing transitions to Closing and reports whether this call won the
// transition. Closed is terminal.
func (c *Connection) beginClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusClosing || c.status == StatusClosed {
		return false
	}
	c.status = StatusClosing
	return true
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	c.status = StatusClosed
	c.mu.Unlock()
}

// StatusSnapshot is a point-in-time view of the registry for health reporting.
type StatusSnapshot struct {
	ActiveCount        int
	Capacity           int
	MonitoredLocations int
}

// Registry owns the set of live sessions. It enforces the maximum connection
// count and evicts sessions that go stale.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	capacity int
}

// NewRegistry creates a Registry holding at most capacity connections.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		capacity: capacity,
	}
}

// Register adds a session. The capacity check and the insert happen under one
// lock so the maximum can never be overshot by racing registrations.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.sessions[s.conn.ID] = s
	log.Printf("registry: connection %s registered for %s (%d/%d)", s.conn.ID, s.conn.LocationKey, len(r.sessions), r.capacity)
	return nil
}

// Unregister removes a session by id. Removing an absent id is a no-op.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connectionID]; !ok {
		return
	}
	delete(r.sessions, connectionID)
	log.Printf("registry: connection %s removed (%d remaining)", connectionID, len(r.sessions))
}

// Touch updates last-activity for a connection from an external liveness ping.
// It reports whether the connection exists.
func (r *Registry) Touch(connectionID string, now time.Time) bool {
	r.mu.Lock()
	s, ok := r.sessions[connectionID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.conn.Touch(now)
	return true
}

// ActiveCount returns the number of live connections.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Status returns a snapshot for the status endpoint.
func (r *Registry) Status() StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	locations := make(map[string]struct{}, len(r.sessions))
	for _, s := range r.sessions {
		locations[s.conn.LocationKey] = struct{}{}
	}
	return StatusSnapshot{
		ActiveCount:        len(r.sessions),
		Capacity:           r.capacity,
		MonitoredLocations: len(locations),
	}
}

// Sweep force-closes every session whose last activity is older than timeout
// and removes it. Cancellation happens before removal so no session work leaks
// past eviction. Returns the number of evicted connections.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) int {
	r.mu.Lock()
	var stale []*Session
	for _, s := range r.sessions {
		if now.Sub(s.conn.LastActivity()) > timeout {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		log.Printf("registry: evicting stale connection %s (idle since %s)", s.conn.ID, s.conn.LastActivity().Format(time.RFC3339))
		s.Close()
		r.Unregister(s.conn.ID)
	}
	return len(stale)
}

// CloseAll shuts down every session, used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	for _, s := range open {
		s.Close()
		r.Unregister(s.conn.ID)
	}
}
