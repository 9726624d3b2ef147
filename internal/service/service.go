package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studio-schedule/internal/lock"
	"studio-schedule/internal/metrics"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
	"studio-schedule/pkg/sl"
)

// Store is the session persistence contract. ConditionalUpdate must compare the stored
// status with expected and run the optional overlap guard in the same atomic unit as
// the write.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	FindByDay(ctx context.Context, day time.Time, filter models.SessionFilter) ([]*models.Session, error)
	FindRange(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error)
	FindOverlapping(ctx context.Context, trainerID string, start, end time.Time) ([]*models.Session, error)
	CountByStatus(ctx context.Context, filter models.SessionFilter) (map[models.SessionStatus]int, error)
	CreateSessions(ctx context.Context, sessions []*models.Session) error
	ConditionalUpdate(ctx context.Context, id string, expected models.SessionStatus, patch models.SessionPatch, guard *models.OverlapGuard) (*models.Session, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Inbox interface {
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error)
}

// Emitter accepts committed session events. Emit must not block the caller.
type Emitter interface {
	Emit(ev models.SessionEvent)
}

type Service struct {
	log     *slog.Logger
	store   Store
	users   UserDirectory
	inbox   Inbox
	events  Emitter
	locker  lock.Locker
	metrics *metrics.Registry

	now             func() time.Time
	loc             *time.Location
	maxRetries      int
	backoff         time.Duration
	defaultDuration int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.backoff = backoff
	}
}

func WithDefaultDuration(minutes int) Option {
	return func(s *Service) {
		if minutes > 0 {
			s.defaultDuration = minutes
		}
	}
}

func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func New(log *slog.Logger, store Store, users UserDirectory, inbox Inbox, events Emitter, opts ...Option) *Service {
	s := &Service{
		log:             log,
		store:           store,
		users:           users,
		inbox:           inbox,
		events:          events,
		locker:          lock.NewLocalLock(),
		now:             time.Now,
		loc:             time.UTC,
		maxRetries:      3,
		backoff:         50 * time.Millisecond,
		defaultDuration: 60,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Location is the timezone calendar days and recurring series are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) emit(typ models.EventType, actor models.Actor, sessions ...*models.Session) {
	if s.events == nil || len(sessions) == 0 {
		return
	}

	ev := models.SessionEvent{
		Type:      typ,
		Actor:     actor,
		Timestamp: s.now(),
	}
	if len(sessions) == 1 {
		ev.Session = sessions[0].Clone()
	} else {
		ev.Sessions = make([]*models.Session, 0, len(sessions))
		for _, sess := range sessions {
			ev.Sessions = append(ev.Sessions, sess.Clone())
		}
	}

	s.events.Emit(ev)
}

// retry runs fn until it succeeds, fails with a domain error, or the retry budget is
// spent. Exhausted budgets surface as response.ErrUnavailable.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.ObserveRetry(op, "transient")
			s.log.Warn("retrying store call",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				sl.Err(err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}

		err = fn()
		if !transient(err) {
			return err
		}
	}

	return fmt.Errorf("%s: %w: %w", op, response.ErrUnavailable, err)
}

var domainErrors = []error{
	response.ErrNotFound,
	response.ErrForbidden,
	response.ErrUnauthorized,
	response.ErrInvalidState,
	response.ErrNotAvailable,
	response.ErrConflict,
	response.ErrInThePast,
	response.ErrValidation,
	response.ErrBadRequest,
	response.ErrLocked,
	response.ErrVersionConflict,
	response.ErrUnavailable,
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

func visible(actor models.Actor, sessions []*models.Session) []*models.Session {
	if actor.IsAdmin() {
		return sessions
	}

	result := make([]*models.Session, 0, len(sessions))
	for _, sess := range sessions {
		if models.CanView(actor, sess) {
			result = append(result, sess)
		}
	}
	return result
}
