package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"studio-schedule/internal/metrics"
	"studio-schedule/internal/models"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Client is one live connection as the registry sees it. Frames for it arrive on Send;
// the channel is closed when the connection is removed.
type Client struct {
	ID     string
	UserID string
	Role   models.Role

	send  chan []byte
	rooms map[string]struct{}
}

func (c *Client) Send() <-chan []byte {
	return c.send
}

type Stats struct {
	Connections int
	Rooms       int
	Delivered   uint64
	Evicted     uint64
}

// Registry indexes live connections by room. Every instance owns its state and
// counters, so several registries can run side by side.
type Registry struct {
	log        *slog.Logger
	metrics    *metrics.Registry
	sendBuffer int

	mu        sync.RWMutex
	clients   map[string]*Client
	rooms     map[string]map[string]*Client
	delivered uint64
	evicted   uint64
}

func NewRegistry(log *slog.Logger, m *metrics.Registry, sendBuffer int) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}

	return &Registry{
		log:        log.With(slog.String("component", "realtime")),
		metrics:    m,
		sendBuffer: sendBuffer,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
	}
}

// Connect registers a connection and joins its user room and every role room of its role.
func (r *Registry) Connect(userID string, role models.Role) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		send:   make(chan []byte, r.sendBuffer),
		rooms:  make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
	r.join(c, models.UserRoom(userID))
	for _, room := range role.Rooms() {
		r.join(c, room)
	}

	if r.metrics != nil {
		r.metrics.ConnectionsTotal.Inc()
		r.metrics.ConnectionsActive.Inc()
	}

	r.log.Debug("connection registered",
		slog.String("connection_id", c.ID),
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)

	return c
}

// Disconnect removes the connection from all of its rooms and closes its send channel.
// Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(id)
}

func (r *Registry) JoinRoom(id, room string) error {
	const op = "realtime.Registry.JoinRoom"

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrUnknownConnection)
	}

	r.join(c, room)

	return nil
}

func (r *Registry) LeaveRoom(id, room string) error {
	const op = "realtime.Registry.LeaveRoom"

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrUnknownConnection)
	}

	r.leave(c, room)

	return nil
}

func (r *Registry) Broadcast(room string, msg []byte) int {
	return r.Deliver(models.Push{Rooms: []string{room}, Payload: msg})
}

type membership struct {
	id   string
	room string
}

// Deliver sends the payload once to every connection in the union of the push rooms and
// returns how many connections received it. Members of a guarded session room that
// may no longer view the session are skipped and leave the room. A connection whose
// buffer is full is evicted.
func (r *Registry) Deliver(p models.Push) int {
	var (
		slow    []string
		revoked []membership
	)
	delivered := 0

	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, room := range p.Rooms {
		guard, guarded := p.Guard(room)

		for id, c := range r.rooms[room] {
			if guarded && !guard.Allows(models.Actor{UserID: c.UserID, Role: c.Role}) {
				revoked = append(revoked, membership{id: id, room: room})
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			select {
			case c.send <- p.Payload:
				delivered++
			default:
				slow = append(slow, id)
			}
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	for _, m := range revoked {
		if c, ok := r.clients[m.id]; ok {
			r.leave(c, m.room)
			r.log.Debug("session no longer visible, left room",
				slog.String("connection_id", m.id),
				slog.String("room", m.room),
			)
		}
	}
	for _, id := range slow {
		r.log.Warn("evicting slow connection", slog.String("connection_id", id))
		r.evicted++
		r.remove(id)
	}
	r.delivered += uint64(delivered)
	r.mu.Unlock()

	r.metrics.ObservePush("delivered", delivered)
	r.metrics.ObservePush("evicted", len(slow))

	return delivered
}

// Push adapts Deliver to the fan-out pusher contract.
func (r *Registry) Push(_ context.Context, p models.Push) error {
	r.Deliver(p)
	return nil
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Connections: len(r.clients),
		Rooms:       len(r.rooms),
		Delivered:   r.delivered,
		Evicted:     r.evicted,
	}
}

// Members returns the connection ids in room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// RoomsOf returns the rooms connection id belongs to, sorted.
func (r *Registry) RoomsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil
	}

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	return rooms
}

// join, leave and remove must be called with r.mu held for writing.

func (r *Registry) join(c *Client, room string) {
	if _, ok := c.rooms[room]; ok {
		return
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		r.rooms[room] = members
		if r.metrics != nil {
			r.metrics.RoomsActive.Inc()
		}
	}

	members[c.ID] = c
	c.rooms[room] = struct{}{}

	if r.metrics != nil {
		r.metrics.RoomJoinsTotal.WithLabelValues(roomKind(room)).Inc()
	}
}

func (r *Registry) leave(c *Client, room string) {
	if _, ok := c.rooms[room]; !ok {
		return
	}

	delete(c.rooms, room)

	members := r.rooms[room]
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, room)
		if r.metrics != nil {
			r.metrics.RoomsActive.Dec()
		}
	}
}

func (r *Registry) remove(id string) {
	c, ok := r.clients[id]
	if !ok {
		return
	}

	for room := range c.rooms {
		r.leave(c, room)
	}

	delete(r.clients, id)
	close(c.send)

	if r.metrics != nil {
		r.metrics.ConnectionsActive.Dec()
	}

	r.log.Debug("connection removed", slog.String("connection_id", id), slog.String("user_id", c.UserID))
}

func roomKind(room string) string {
	if kind, _, ok := strings.Cut(room, ":"); ok {
		return kind
	}
	return "role"
}
