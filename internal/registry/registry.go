// Package registry tracks live transport connections and provides
// role-indexed lookup, capacity enforcement, targeted send and broadcast.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
	"github.com/BritoCeo/londa-rides-relay/internal/protocol"
)

// Transport is the minimal write side of a persistent connection. Production
// code wraps *websocket.Conn; tests substitute fakes.
type Transport interface {
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// Connection is one live transport session.
type Connection struct {
	ID          string
	Role        models.Role
	DomainID    string
	ConnectedAt time.Time
	LastActive  time.Time
	Alive       bool

	transport Transport
	writeMu   sync.Mutex
}

// Send serializes one envelope onto the transport. Writes are serialized per
// session so concurrent handlers cannot interleave frames.
func (c *Connection) Send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteJSON(env)
}

// Close tears down the underlying transport.
func (c *Connection) Close() error { return c.transport.Close() }

func (c *Connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Ping()
}

// Registry owns the set of live connections. All methods are safe for
// concurrent use; the capacity check and insert happen under one lock.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byRole map[models.Role]map[string]string // role -> domain id -> conn id

	maxTotal  int
	roleLimit map[models.Role]int

	logger *slog.Logger
}

func NewRegistry(maxTotal, maxDrivers, maxUsers int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns: make(map[string]*Connection),
		byRole: map[models.Role]map[string]string{
			models.RoleDriver: make(map[string]string),
			models.RoleUser:   make(map[string]string),
		},
		maxTotal: maxTotal,
		roleLimit: map[models.Role]int{
			models.RoleDriver: maxDrivers,
			models.RoleUser:   maxUsers,
		},
		logger: logger,
	}
}

// Add inserts a new connection. When role and domainID are set it also claims
// the role-index slot. Returns false without mutation when the global ceiling
// or the role ceiling would be exceeded; a role-ceiling failure rolls back the
// global insert.
func (r *Registry) Add(id string, t Transport, role models.Role, domainID string) bool {
	now := time.Now()
	c := &Connection{
		ID:          id,
		Role:        role,
		DomainID:    domainID,
		ConnectedAt: now,
		LastActive:  now,
		Alive:       true,
		transport:   t,
	}
	if role == "" {
		c.Role = models.RoleUnassigned
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) >= r.maxTotal {
		return false
	}
	r.conns[id] = c
	if c.Role == models.RoleDriver || c.Role == models.RoleUser {
		idx := r.byRole[c.Role]
		if len(idx) >= r.roleLimit[c.Role] {
			delete(r.conns, id)
			return false
		}
		idx[domainID] = id
	}
	return true
}

// Bind assigns a role and domain id to an existing unbound connection. The
// binding is set once: repeating the same binding is an idempotent success,
// while rebinding to a different role or domain id is rejected. When a prior
// connection holds the same (role, domain id) slot it is superseded: Bind
// removes it from the registry and returns it so the caller can notify and
// close it. Returns ok=false when the connection is unknown, already bound
// elsewhere, or the role ceiling is reached.
func (r *Registry) Bind(id string, role models.Role, domainID string) (superseded *Connection, ok bool) {
	if role != models.RoleDriver && role != models.RoleUser {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.conns[id]
	if !exists {
		return nil, false
	}
	if c.Role != models.RoleUnassigned && (c.Role != role || c.DomainID != domainID) {
		return nil, false
	}
	idx := r.byRole[role]
	if oldID, taken := idx[domainID]; taken {
		if oldID == id {
			c.LastActive = time.Now()
			return nil, true
		}
		superseded = r.conns[oldID]
		delete(r.conns, oldID)
	} else if len(idx) >= r.roleLimit[role] {
		return nil, false
	}
	c.Role = role
	c.DomainID = domainID
	c.LastActive = time.Now()
	idx[domainID] = id
	return superseded, true
}

// Remove deletes the connection and its role-index entry. Idempotent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) bool {
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	delete(r.conns, id)
	if idx, hasIdx := r.byRole[c.Role]; hasIdx {
		if idx[c.DomainID] == id {
			delete(idx, c.DomainID)
		}
	}
	return true
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// GetByRole resolves the live connection bound to (role, domain id).
func (r *Registry) GetByRole(role models.Role, domainID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byRole[role]
	if !ok {
		return nil, false
	}
	id, ok := idx[domainID]
	if !ok {
		return nil, false
	}
	c, ok := r.conns[id]
	return c, ok
}

// Touch refreshes last-activity and the liveness flag. Called on every
// inbound frame and on keepalive response.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.LastActive = time.Now()
		c.Alive = true
	}
}

// MarkStale clears the liveness flag without removing the record. The
// keepalive probe uses it before eviction decides.
func (r *Registry) MarkStale(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Alive = false
	}
}

// SendTo writes one envelope to the target connection. A write failure evicts
// the connection and returns false; the peer is assumed dead.
func (r *Registry) SendTo(id string, env protocol.Envelope) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.Send(env); err != nil {
		r.logger.Warn("send failed, evicting connection", "conn_id", id, "error", err)
		r.Remove(id)
		_ = c.Close()
		return false
	}
	return true
}

// Broadcast sends to every connection except exclude. Per-target failures
// evict that connection but do not abort the broadcast. Returns the number of
// successful sends.
func (r *Registry) Broadcast(env protocol.Envelope, exclude string) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(env); err != nil {
			r.logger.Warn("broadcast send failed, evicting connection", "conn_id", c.ID, "error", err)
			r.Remove(c.ID)
			_ = c.Close()
			continue
		}
		sent++
	}
	return sent
}

// PingAll probes every connection with a transport-level keepalive, marking
// stale any target that fails the write. Eviction is left to EvictStale.
func (r *Registry) PingAll() {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.ping(); err != nil {
			r.MarkStale(c.ID)
		}
	}
}

// EvictStale removes every connection idle longer than timeout, plus any
// connection the keepalive probe marked not alive, closing their transports.
// Returns the number evicted.
func (r *Registry) EvictStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	r.mu.Lock()
	var evicted []*Connection
	for id, c := range r.conns {
		if c.LastActive.Before(cutoff) || !c.Alive {
			r.removeLocked(id)
			evicted = append(evicted, c)
		}
	}
	r.mu.Unlock()

	for _, c := range evicted {
		_ = c.Close()
		r.logger.Info("evicted stale connection", "conn_id", c.ID, "role", c.Role, "domain_id", c.DomainID)
	}
	return len(evicted)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) CountByRole(role models.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == models.RoleUnassigned {
		n := 0
		for _, c := range r.conns {
			if c.Role == models.RoleUnassigned {
				n++
			}
		}
		return n
	}
	return len(r.byRole[role])
}
