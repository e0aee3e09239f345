package session

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotRegistered     = errors.New("connection not registered")
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrAlreadyBound      = errors.New("connection already bound to another game")
	ErrInvalidIdentity   = errors.New("connection id and client id are required")
)

// Sender writes an outbound payload to one live connection
type Sender interface {
	Send(connID string, payload []byte) error
}

// SessionEntry is the tracking state of one live connection
type SessionEntry struct {
	ConnID      string    `json:"conn_id"`
	ClientID    string    `json:"client_id"`
	GameID      string    `json:"game_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Bound reports whether the connection is attached to a game
func (e SessionEntry) Bound() bool {
	return e.GameID != ""
}

// Registry maps live connections to client identities and bound games
type Registry struct {
	entries map[string]*SessionEntry
	sender  Sender
	mu      sync.RWMutex
}

// NewRegistry creates a registry delivering through sender
func NewRegistry(sender Sender) *Registry {
	return &Registry{
		entries: make(map[string]*SessionEntry),
		sender:  sender,
	}
}

// Register starts tracking a newly established connection
func (r *Registry) Register(connID, clientID string) (SessionEntry, error) {
	if connID == "" || clientID == "" {
		return SessionEntry{}, ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[connID]; exists {
		return SessionEntry{}, ErrAlreadyRegistered
	}

	entry := &SessionEntry{
		ConnID:      connID,
		ClientID:    clientID,
		ConnectedAt: time.Now(),
	}
	r.entries[connID] = entry
	return *entry, nil
}

// Bind attaches a connection to a game. Binding to the current game is a no-op.
// A client holds a game on one connection at a time, so any other connection
// of the same client bound to gameID is released.
func (r *Registry) Bind(connID, gameID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[connID]
	if !exists {
		return ErrNotRegistered
	}
	if entry.GameID != "" && entry.GameID != gameID {
		return ErrAlreadyBound
	}
	for otherID, other := range r.entries {
		if otherID != connID && other.ClientID == entry.ClientID && other.GameID == gameID {
			other.GameID = ""
			log.Printf("Game %s moved from connection %s to %s", gameID, otherID, connID)
		}
	}
	entry.GameID = gameID
	return nil
}

// Unbind detaches a connection from its game
func (r *Registry) Unbind(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[connID]
	if !exists {
		return ErrNotRegistered
	}
	entry.GameID = ""
	return nil
}

// UnbindGame detaches every connection bound to gameID and returns how many were bound
func (r *Registry) UnbindGame(gameID string) int {
	if gameID == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, entry := range r.entries {
		if entry.GameID == gameID {
			entry.GameID = ""
			n++
		}
	}
	return n
}

// Lookup returns a copy of the connection's entry
func (r *Registry) Lookup(connID string) (SessionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[connID]
	if !exists {
		return SessionEntry{}, ErrNotRegistered
	}
	return *entry, nil
}

// Deregister stops tracking a connection and returns the game it was bound to
func (r *Registry) Deregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[connID]
	if !exists {
		return "", false
	}
	delete(r.entries, connID)
	return entry.GameID, entry.GameID != ""
}

// DeliverToConn sends payload to a single connection
func (r *Registry) DeliverToConn(connID string, payload []byte) int {
	r.mu.RLock()
	_, exists := r.entries[connID]
	r.mu.RUnlock()

	if !exists {
		return 0
	}
	return r.send([]string{connID}, payload)
}

// DeliverToClients sends payload to every connection owned by one of clientIDs
func (r *Registry) DeliverToClients(clientIDs []string, payload []byte) int {
	wanted := make(map[string]bool, len(clientIDs))
	for _, id := range clientIDs {
		if id != "" {
			wanted[id] = true
		}
	}
	return r.deliverWhere(func(e *SessionEntry) bool { return wanted[e.ClientID] }, payload)
}

// DeliverToGame sends payload to every connection bound to gameID
func (r *Registry) DeliverToGame(gameID string, payload []byte) int {
	if gameID == "" {
		return 0
	}
	return r.deliverWhere(func(e *SessionEntry) bool { return e.GameID == gameID }, payload)
}

// deliverWhere snapshots matching targets under the read lock and sends after release
func (r *Registry) deliverWhere(match func(*SessionEntry) bool, payload []byte) int {
	r.mu.RLock()
	targets := make([]string, 0, 2)
	for connID, entry := range r.entries {
		if match(entry) {
			targets = append(targets, connID)
		}
	}
	r.mu.RUnlock()

	return r.send(targets, payload)
}

// send is best-effort: failures are logged and skipped
func (r *Registry) send(targets []string, payload []byte) int {
	if r.sender == nil {
		return 0
	}
	delivered := 0
	for _, connID := range targets {
		if err := r.sender.Send(connID, payload); err != nil {
			log.Printf("Delivery to connection %s dropped: %v", connID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a snapshot of every connection, oldest first
func (r *Registry) Entries() []SessionEntry {
	r.mu.RLock()
	result := make([]SessionEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, *entry)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ConnectedAt.Before(result[j].ConnectedAt)
		}
		return result[i].ConnID < result[j].ConnID
	})
	return result
}
