package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

// maxSeriesSessions bounds a single recurring expansion.
const maxSeriesSessions = 500

type SessionSpec struct {
	Start     time.Time
	Duration  int
	TrainerID *string
	Status    models.SessionStatus
	Notes     string
}

type RequestSpec struct {
	Start    time.Time
	Duration int
	Notes    string
}

type RecurringSpec struct {
	StartDate  time.Time
	EndDate    time.Time
	DaysOfWeek []string
	Times      []string
	Duration   int
	TrainerID  *string
	Status     models.SessionStatus
	Notes      string
}

// CreateSessions opens new slots. Admins may staff them with any trainer, trainers only
// with themselves.
func (s *Service) CreateSessions(ctx context.Context, actor models.Actor, specs []SessionSpec) (created []*models.Session, err error) {
	const op = "service.CreateSessions"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("create", err, started) }()

	if err := requireStaff(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "at least one session is required"))
	}

	now := s.now()
	sessions := make([]*models.Session, 0, len(specs))
	trainers := make(map[string]struct{})

	for i, spec := range specs {
		sess, err := s.buildSession(actor, spec, now)
		if err != nil {
			return nil, fmt.Errorf("%s: session %d: %w", op, i, err)
		}
		if sess.TrainerID != nil {
			trainers[*sess.TrainerID] = struct{}{}
		}
		sessions = append(sessions, sess)
	}

	if err := s.checkTrainers(ctx, op, trainers); err != nil {
		return nil, err
	}

	return s.insert(ctx, op, actor, sessions)
}

// RequestSession creates a session at a time of the client's choosing and books it for
// them in the same write. It has no trainer until an admin assigns one.
func (s *Service) RequestSession(ctx context.Context, actor models.Actor, spec RequestSpec) (sess *models.Session, err error) {
	const op = "service.RequestSession"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("request", err, started) }()

	if actor.Role != models.RoleClient {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrForbidden, "only clients request sessions"))
	}

	client, err := s.lookupUser(ctx, op, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !client.Usable() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "client account is inactive"))
	}

	sess, err = s.buildSession(actor, SessionSpec{
		Start:    spec.Start,
		Duration: spec.Duration,
		Notes:    spec.Notes,
	}, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	clientID := actor.UserID
	sess.ClientID = &clientID
	sess.Status = models.SessionScheduled

	err = s.retry(ctx, op, func() error {
		return s.store.CreateSessions(ctx, []*models.Session{sess})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	s.emit(models.EventSessionBooked, actor, sess)

	return sess, nil
}

// CreateRecurring expands a weekly series into concrete sessions between StartDate and
// EndDate inclusive. Occurrences already in the past are skipped.
func (s *Service) CreateRecurring(ctx context.Context, actor models.Actor, spec RecurringSpec) (created []*models.Session, err error) {
	const op = "service.CreateRecurring"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("create_recurring", err, started) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrForbidden, "only admins create recurring series"))
	}

	if spec.StartDate.IsZero() || spec.EndDate.IsZero() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "start_date and end_date are required"))
	}

	from := truncateToDate(spec.StartDate.In(s.loc), s.loc)
	to := truncateToDate(spec.EndDate.In(s.loc), s.loc)
	if to.Before(from) {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "end_date is before start_date"))
	}

	days := make(map[time.Weekday]struct{}, len(spec.DaysOfWeek))
	dayNames := make([]string, 0, len(spec.DaysOfWeek))
	for _, d := range spec.DaysOfWeek {
		wd, ok := parseWeekdayFlexible(d)
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "unknown weekday %q", d))
		}
		if _, dup := days[wd]; !dup {
			days[wd] = struct{}{}
			dayNames = append(dayNames, strings.ToLower(wd.String()[:3]))
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "days_of_week is required"))
	}

	times := make([]time.Time, 0, len(spec.Times))
	for _, raw := range spec.Times {
		t, err := time.Parse("15:04", strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "invalid time %q", raw))
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "times is required"))
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	pattern := fmt.Sprintf("weekly;days=%s;times=%s", strings.Join(dayNames, ","), strings.Join(spec.Times, ","))
	now := s.now()

	var sessions []*models.Session
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if _, ok := days[d.Weekday()]; !ok {
			continue
		}

		for _, t := range times {
			start := time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, s.loc)
			if !start.After(now) {
				continue
			}

			sess, err := s.buildSession(actor, SessionSpec{
				Start:     start,
				Duration:  spec.Duration,
				TrainerID: spec.TrainerID,
				Status:    spec.Status,
				Notes:     spec.Notes,
			}, now)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}

			sess.IsRecurring = true
			sess.RecurringPattern = &pattern
			sessions = append(sessions, sess)

			if len(sessions) > maxSeriesSessions {
				return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "series expands to more than %d sessions", maxSeriesSessions))
			}
		}
	}

	if len(sessions) == 0 {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "series has no future occurrences"))
	}

	if spec.TrainerID != nil {
		if err := s.checkTrainers(ctx, op, map[string]struct{}{*spec.TrainerID: {}}); err != nil {
			return nil, err
		}
	}

	return s.insert(ctx, op, actor, sessions)
}

func (s *Service) buildSession(actor models.Actor, spec SessionSpec, now time.Time) (*models.Session, error) {
	if spec.Start.IsZero() {
		return nil, response.Rule(response.ErrValidation, "start is required")
	}
	if spec.Start.Before(now) {
		return nil, response.ErrInThePast
	}

	duration := spec.Duration
	switch {
	case duration == 0:
		duration = s.defaultDuration
	case duration < 0:
		return nil, response.Rule(response.ErrValidation, "duration must be positive")
	}

	status := spec.Status
	switch status {
	case "":
		status = models.SessionAvailable
	case models.SessionAvailable, models.SessionBlocked:
	default:
		return nil, response.Rule(response.ErrValidation, "new sessions are available or blocked, not %s", status)
	}

	trainerID := spec.TrainerID
	if trainerID != nil && strings.TrimSpace(*trainerID) == "" {
		trainerID = nil
	}
	if actor.Role == models.RoleTrainer {
		if trainerID != nil && *trainerID != actor.UserID {
			return nil, response.Rule(response.ErrForbidden, "trainers create sessions only for themselves")
		}
		self := actor.UserID
		trainerID = &self
	}

	start := spec.Start.UTC()

	return &models.Session{
		ID:          uuid.NewString(),
		SessionDate: start,
		Duration:    duration,
		EndTime:     start.Add(time.Duration(duration) * time.Minute),
		TrainerID:   trainerID,
		Status:      status,
		Notes:       strings.TrimSpace(spec.Notes),
	}, nil
}

func (s *Service) checkTrainers(ctx context.Context, op string, trainers map[string]struct{}) error {
	for id := range trainers {
		trainer, err := s.lookupUser(ctx, op, id)
		if err != nil {
			return err
		}
		if trainer.Role != models.RoleTrainer || !trainer.Usable() {
			return fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "%s is not an active trainer", id))
		}
	}
	return nil
}

func (s *Service) insert(ctx context.Context, op string, actor models.Actor, sessions []*models.Session) ([]*models.Session, error) {
	err := s.retry(ctx, op, func() error {
		return s.store.CreateSessions(ctx, sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	for _, sess := range sessions {
		sess.CreatedAt = now
		sess.UpdatedAt = now
	}

	s.emit(models.EventSessionsCreated, actor, sessions...)

	return sessions, nil
}

// Get returns a session the actor is allowed to see.
func (s *Service) Get(ctx context.Context, actor models.Actor, id string) (*models.Session, error) {
	const op = "service.Get"

	var sess *models.Session
	err := s.retry(ctx, op, func() error {
		var err error
		sess, err = s.store.GetSession(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !models.CanView(actor, sess) {
		return nil, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	return sess, nil
}

// FindByDay lists the sessions starting on the calendar day of day in the engine timezone.
func (s *Service) FindByDay(ctx context.Context, actor models.Actor, day time.Time, filter models.SessionFilter) ([]*models.Session, error) {
	const op = "service.FindByDay"

	start := truncateToDate(day.In(s.loc), s.loc)

	var sessions []*models.Session
	err := s.retry(ctx, op, func() error {
		var err error
		sessions, err = s.store.FindByDay(ctx, start, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return visible(actor, sessions), nil
}

func (s *Service) FindRange(ctx context.Context, actor models.Actor, filter models.SessionFilter) ([]*models.Session, error) {
	const op = "service.FindRange"

	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "to must be after from"))
	}

	var sessions []*models.Session
	err := s.retry(ctx, op, func() error {
		var err error
		sessions, err = s.store.FindRange(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return visible(actor, sessions), nil
}

// FindOverlapping lists the trainer's active sessions intersecting [start, end).
func (s *Service) FindOverlapping(ctx context.Context, actor models.Actor, trainerID string, start, end time.Time) ([]*models.Session, error) {
	const op = "service.FindOverlapping"

	if trainerID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "trainer_id is required"))
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "end must be after start"))
	}

	var sessions []*models.Session
	err := s.retry(ctx, op, func() error {
		var err error
		sessions, err = s.store.FindOverlapping(ctx, trainerID, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return visible(actor, sessions), nil
}

type Stats struct {
	Total    int
	ByStatus map[models.SessionStatus]int
}

// Stats counts the sessions visible to actor per status, cancelled ones included.
func (s *Service) Stats(ctx context.Context, actor models.Actor, from, to *time.Time) (*Stats, error) {
	const op = "service.Stats"

	filter := models.SessionFilter{From: from, To: to, IncludeCancelled: true}
	stats := &Stats{ByStatus: make(map[models.SessionStatus]int)}

	if actor.IsAdmin() {
		var counts map[models.SessionStatus]int
		err := s.retry(ctx, op, func() error {
			var err error
			counts, err = s.store.CountByStatus(ctx, filter)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		for status, n := range counts {
			stats.ByStatus[status] = n
			stats.Total += n
		}
		return stats, nil
	}

	sessions, err := s.FindRange(ctx, actor, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, sess := range sessions {
		stats.ByStatus[sess.Status]++
		stats.Total++
	}

	return stats, nil
}

func truncateToDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// parseWeekdayFlexible accepts 0-6 (Sunday=0), 7 for Sunday, and English day names or
// their common abbreviations.
func parseWeekdayFlexible(s string) (time.Weekday, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 0 && n <= 6:
			return time.Weekday(n), true
		case n == 7:
			return time.Sunday, true
		}
		return 0, false
	}

	switch s {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tues", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thur", "thurs", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	}

	return 0, false
}
