package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-schedule/api"
	"studio-schedule/internal/metrics"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/sl"
)

type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]*models.User, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Pusher sends one frame to every live connection in the union of the push rooms.
type Pusher interface {
	Push(ctx context.Context, p models.Push) error
}

// Sink receives a copy of every event for export outside the process.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev models.SessionEvent, msg []byte) error
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher turns committed session events into notification rows and pushes. Events
// for one session always land on the same worker so their order is kept.
type Dispatcher struct {
	log     *slog.Logger
	notes   NotificationStore
	users   Directory
	pusher  Pusher
	sinks   []Sink
	metrics *metrics.Registry
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	shards []chan models.SessionEvent
	closed bool
	wg     sync.WaitGroup
}

func New(log *slog.Logger, notes NotificationStore, users Directory, pusher Pusher, m *metrics.Registry, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	d := &Dispatcher{
		log:     log.With(slog.String("component", "fanout")),
		notes:   notes,
		users:   users,
		pusher:  pusher,
		metrics: m,
		timeout: opts.Timeout,
		now:     time.Now,
		shards:  make([]chan models.SessionEvent, opts.Workers),
	}

	for i := range d.shards {
		d.shards[i] = make(chan models.SessionEvent, opts.QueueSize)
	}

	return d
}

// AddSink registers an export target. It must be called before Start.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Start launches one worker per shard. Workers run until Stop drains their queues.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	for _, ch := range d.shards {
		d.wg.Add(1)
		go func(ch <-chan models.SessionEvent) {
			defer d.wg.Done()

			for ev := range ch {
				evCtx, cancel := context.WithTimeout(ctx, d.timeout)
				if err := d.Deliver(evCtx, ev); err != nil {
					d.log.Warn("event delivered partially",
						slog.String("type", string(ev.Type)),
						sl.Err(err),
					)
				}
				cancel()
			}
		}(ch)
	}
}

// Stop closes the queues and waits for queued events to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Emit queues ev without blocking. A full queue drops the event; the drop is logged
// and counted.
func (d *Dispatcher) Emit(ev models.SessionEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.ObserveDrop()
		d.log.Warn("event dropped after shutdown", slog.String("type", string(ev.Type)))
		return
	}

	select {
	case d.shards[d.shard(ev)] <- ev:
	default:
		d.metrics.ObserveDrop()
		d.log.Error("fan-out queue full, event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("session_id", eventKey(ev)),
		)
	}
}

func (d *Dispatcher) shard(ev models.SessionEvent) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventKey(ev)))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func eventKey(ev models.SessionEvent) string {
	if ev.Session != nil {
		return ev.Session.ID
	}
	if len(ev.Sessions) > 0 {
		return ev.Sessions[0].ID
	}
	return ""
}

// Deliver processes one event synchronously: one notification row per recipient, one
// push to the union of the target rooms, then the export sinks. Failures are collected
// and returned but never stop the remaining steps.
func (d *Dispatcher) Deliver(ctx context.Context, ev models.SessionEvent) error {
	const op = "fanout.Deliver"

	msg, err := json.Marshal(d.message(ctx, ev))
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	var errs []error

	if ev.Type.Persisted() && ev.Session != nil {
		recipients, err := d.Recipients(ctx, ev)
		if err != nil {
			errs = append(errs, err)
		}

		for _, userID := range recipients {
			n := &models.Notification{
				ID:          uuid.NewString(),
				RecipientID: userID,
				Type:        ev.Type,
				Payload:     msg,
				CreatedAt:   d.now(),
			}

			err := d.notes.CreateNotification(ctx, n)
			d.metrics.ObserveNotification(string(ev.Type), err)
			if err != nil {
				d.log.Error("failed to store notification",
					slog.String("recipient_id", userID),
					slog.String("type", string(ev.Type)),
					sl.Err(err),
				)
				errs = append(errs, fmt.Errorf("%s: notify %s: %w", op, userID, err))
			}
		}
	}

	if d.pusher != nil {
		push := models.Push{Rooms: Rooms(ev), Payload: msg, Guards: Guards(ev)}
		if err := d.pusher.Push(ctx, push); err != nil {
			d.metrics.ObservePush("error", 1)
			d.log.Warn("push failed", slog.String("type", string(ev.Type)), sl.Err(err))
			errs = append(errs, fmt.Errorf("%s: push: %w", op, err))
		}
	}

	for _, sink := range d.sinks {
		err := sink.Publish(ctx, ev, msg)
		d.metrics.ObserveExport(sink.Name(), err)
		if err != nil {
			d.log.Warn("event export failed", slog.String("sink", sink.Name()), sl.Err(err))
			errs = append(errs, fmt.Errorf("%s: export %s: %w", op, sink.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Recipients resolves who gets a notification row. Assignment events go to the new
// trainer and the admins; every other persisted event to the client, the trainer and
// the admins. Each user appears once.
func (d *Dispatcher) Recipients(ctx context.Context, ev models.SessionEvent) ([]string, error) {
	const op = "fanout.Recipients"

	seen := make(map[string]struct{})
	var result []string
	add := func(id *string) {
		if id == nil || *id == "" {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		result = append(result, *id)
	}

	sess := ev.Session
	if ev.Type != models.EventSessionAssigned {
		add(sess.ClientID)
	}
	add(sess.TrainerID)

	admins, err := d.users.ListUsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		return result, fmt.Errorf("%s: list admins: %w", op, err)
	}
	for _, a := range admins {
		add(&a.ID)
	}

	return result, nil
}

// Rooms lists the rooms an event is pushed to.
func Rooms(ev models.SessionEvent) []string {
	switch ev.Type {
	case models.EventSessionsCreated, models.EventSessionDeleted:
		rooms := []string{models.RoleRoom(models.RoleTrainer)}
		if ev.Session != nil {
			rooms = append(rooms, models.SessionRoom(ev.Session.ID))
		}
		for _, s := range ev.Sessions {
			rooms = append(rooms, models.SessionRoom(s.ID))
		}
		return rooms
	}

	sess := ev.Session
	if sess == nil {
		return nil
	}

	rooms := make([]string, 0, 4)
	if ev.Type != models.EventSessionAssigned && sess.ClientID != nil {
		rooms = append(rooms, models.UserRoom(*sess.ClientID))
	}
	if sess.TrainerID != nil {
		rooms = append(rooms, models.UserRoom(*sess.TrainerID))
	}
	rooms = append(rooms, models.RoleRoom(models.RoleAdmin), models.SessionRoom(sess.ID))

	return rooms
}

// Guards snapshots who may read each session the event carries, in its new state.
func Guards(ev models.SessionEvent) []models.Visibility {
	var guards []models.Visibility
	if ev.Session != nil {
		guards = append(guards, ev.Session.Visibility())
	}
	for _, s := range ev.Sessions {
		guards = append(guards, s.Visibility())
	}
	return guards
}

func (d *Dispatcher) message(ctx context.Context, ev models.SessionEvent) api.Event {
	msg := api.Event{
		Type: string(ev.Type),
		Actor: api.Actor{
			UserID: ev.Actor.UserID,
			Role:   string(ev.Actor.Role),
			Name:   d.displayName(ctx, &ev.Actor.UserID),
		},
		Timestamp: ev.Timestamp,
	}

	if ev.Session != nil {
		s := api.FromSession(ev.Session)
		msg.Session = &s
		msg.ClientName = d.displayName(ctx, ev.Session.ClientID)
		msg.TrainerName = d.displayName(ctx, ev.Session.TrainerID)
	}
	if len(ev.Sessions) > 0 {
		msg.Sessions = api.FromSessions(ev.Sessions)
	}

	return msg
}

// displayName is best effort; an unknown user simply has no name in the payload.
func (d *Dispatcher) displayName(ctx context.Context, id *string) string {
	if id == nil || *id == "" {
		return ""
	}

	u, err := d.users.GetUser(ctx, *id)
	if err != nil {
		return ""
	}

	return u.FullName()
}
