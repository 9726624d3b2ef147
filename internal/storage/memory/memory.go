package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

// Storage keeps sessions, users and notifications in process memory. A single mutex
// serialises writers, which gives the same guarantees as the row and advisory locks of
// the postgres store.
type Storage struct {
	mu            sync.RWMutex
	sessions      map[string]*models.Session
	users         map[string]*models.User
	notifications map[string]*models.Notification
	now           func() time.Time
}

func New() *Storage {
	return &Storage{
		sessions:      make(map[string]*models.Session),
		users:         make(map[string]*models.User),
		notifications: make(map[string]*models.Notification),
		now:           time.Now,
	}
}

func (s *Storage) Close() error {
	return nil
}

// PutUser inserts or replaces a user record.
func (s *Storage) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = &u
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.memory.GetUser"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	c := *u
	return &c, nil
}

func (s *Storage) ListUsersByRole(ctx context.Context, role models.Role) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []*models.User
	for _, u := range s.users {
		if u.Role == role && u.Usable() {
			c := *u
			users = append(users, &c)
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users, nil
}

func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "storage.memory.GetSession"

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || sess.DeletedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return sess.Clone(), nil
}

func (s *Storage) FindByDay(ctx context.Context, day time.Time, filter models.SessionFilter) ([]*models.Session, error) {
	from := day
	to := day.AddDate(0, 0, 1)
	filter.From = &from
	filter.To = &to

	return s.FindRange(ctx, filter)
}

func (s *Storage) FindRange(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Session
	for _, sess := range s.sessions {
		if matches(sess, filter) {
			result = append(result, sess.Clone())
		}
	}

	sortSessions(result)

	return result, nil
}

func (s *Storage) FindOverlapping(ctx context.Context, trainerID string, start, end time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.overlapping(trainerID, start, end, "")
	sortSessions(result)

	return result, nil
}

func (s *Storage) CountByStatus(ctx context.Context, filter models.SessionFilter) (map[models.SessionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.SessionStatus]int)
	for _, sess := range s.sessions {
		if matches(sess, filter) {
			counts[sess.Status]++
		}
	}

	return counts, nil
}

// CreateSessions inserts every session or none. Sessions with a trainer are checked
// against that trainer's active sessions and against each other.
func (s *Storage) CreateSessions(ctx context.Context, sessions []*models.Session) error {
	const op = "storage.memory.CreateSessions"

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sess := range sessions {
		if _, exists := s.sessions[sess.ID]; exists {
			return fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "session %s already exists", sess.ID))
		}
		if sess.TrainerID == nil {
			continue
		}
		start, end := sess.Window()
		if len(s.overlapping(*sess.TrainerID, start, end, "")) > 0 {
			return fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "trainer %s already has a session in this window", *sess.TrainerID))
		}
		for _, other := range sessions[:i] {
			if other.TrainerID == nil || *other.TrainerID != *sess.TrainerID {
				continue
			}
			os, oe := other.Window()
			if start.Before(oe) && os.Before(end) {
				return fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "trainer %s already has a session in this window", *sess.TrainerID))
			}
		}
	}

	now := s.now()
	for _, sess := range sessions {
		c := sess.Clone()
		c.CreatedAt = now
		c.UpdatedAt = now
		if c.EndTime.IsZero() {
			_, c.EndTime = c.Window()
		}
		s.sessions[c.ID] = c
	}

	return nil
}

func (s *Storage) ConditionalUpdate(ctx context.Context, id string, expected models.SessionStatus, patch models.SessionPatch, guard *models.OverlapGuard) (*models.Session, error) {
	const op = "storage.memory.ConditionalUpdate"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.DeletedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	if sess.Status != expected {
		return nil, fmt.Errorf("%s: status is %s, expected %s: %w", op, sess.Status, expected, response.ErrVersionConflict)
	}

	if guard != nil && len(s.overlapping(guard.TrainerID, guard.Start, guard.End, id)) > 0 {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "trainer %s already has a session in this window", guard.TrainerID))
	}

	updated := sess.Clone()
	patch.Apply(updated)
	updated.UpdatedAt = s.now()
	s.sessions[id] = updated

	return updated.Clone(), nil
}

func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *n
	c.Payload = slices.Clone(n.Payload)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.notifications[c.ID] = &c

	return nil
}

func (s *Storage) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		c := *n
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error) {
	const op = "storage.memory.MarkNotificationRead"

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	if n.ReadAt == nil {
		readAt := at
		n.ReadAt = &readAt
	}

	c := *n
	return &c, nil
}

// overlapping must be called with s.mu held.
func (s *Storage) overlapping(trainerID string, start, end time.Time, exclude string) []*models.Session {
	var result []*models.Session
	for _, sess := range s.sessions {
		if sess.ID == exclude || sess.DeletedAt != nil || sess.Status == models.SessionCancelled {
			continue
		}
		if !sess.HasTrainer(trainerID) {
			continue
		}
		ss, se := sess.Window()
		if ss.Before(end) && start.Before(se) {
			result = append(result, sess.Clone())
		}
	}
	return result
}

func matches(sess *models.Session, f models.SessionFilter) bool {
	if sess.DeletedAt != nil {
		return false
	}
	if !f.IncludeCancelled && sess.Status == models.SessionCancelled && !slices.Contains(f.Statuses, models.SessionCancelled) {
		return false
	}
	if f.From != nil && sess.SessionDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !sess.SessionDate.Before(*f.To) {
		return false
	}
	if f.TrainerID != nil && !sess.HasTrainer(*f.TrainerID) {
		return false
	}
	if f.ClientID != nil && !sess.HasClient(*f.ClientID) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, sess.Status) {
		return false
	}
	return true
}

func sortSessions(sessions []*models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].SessionDate.Equal(sessions[j].SessionDate) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].SessionDate.Before(sessions[j].SessionDate)
	})
}
