package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

const idempotencyTTL = 10 * time.Second

// decideFunc validates a transition against the freshly read session and returns the
// patch to write. It runs again after every lost compare-and-swap.
type decideFunc func(current *models.Session) (models.SessionPatch, *models.OverlapGuard, error)

// transition is the read, validate, conditional-write loop every mutation goes through.
func (s *Service) transition(ctx context.Context, op, id string, decide decideFunc) (*models.Session, error) {
	for attempt := 0; ; attempt++ {
		var current *models.Session
		err := s.retry(ctx, op, func() error {
			var err error
			current, err = s.store.GetSession(ctx, id)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		patch, guard, err := decide(current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		var updated *models.Session
		err = s.retry(ctx, op, func() error {
			var err error
			updated, err = s.store.ConditionalUpdate(ctx, id, current.Status, patch, guard)
			return err
		})
		if err == nil {
			return updated, nil
		}

		if !errors.Is(err, response.ErrVersionConflict) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if attempt >= s.maxRetries {
			return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "too many concurrent modifications, try again"))
		}

		s.metrics.ObserveRetry(op, "version_conflict")
	}
}

type BookRequest struct {
	ClientID       string
	IdempotencyKey string
}

// Book moves an available future session to scheduled for a client. Clients book for
// themselves; trainers and admins book on behalf of the client named in req.
func (s *Service) Book(ctx context.Context, actor models.Actor, id string, req BookRequest) (sess *models.Session, err error) {
	const op = "service.Book"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("book", err, started) }()

	clientID, err := s.bookingClient(actor, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.IdempotencyKey != "" {
		lockKey := "book:" + req.IdempotencyKey

		locked, err := s.locker.Lock(ctx, lockKey, idempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("%s: lock error: %w", op, err)
		}
		if !locked {
			return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
		}
		defer func() {
			_ = s.locker.Unlock(context.WithoutCancel(ctx), lockKey)
		}()
	}

	client, err := s.lookupUser(ctx, op, clientID)
	if err != nil {
		return nil, err
	}
	if client.Role != models.RoleClient {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "user %s is not a client", clientID))
	}
	if !client.Usable() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "client account is inactive"))
	}

	updated, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if cur.Status != models.SessionAvailable {
			return models.SessionPatch{}, nil, response.Rule(response.ErrNotAvailable, "status is %s", cur.Status)
		}
		if cur.SessionDate.Before(s.now()) {
			return models.SessionPatch{}, nil, response.ErrInThePast
		}

		var guard *models.OverlapGuard
		if cur.TrainerID != nil {
			if err := s.requireActiveTrainer(ctx, *cur.TrainerID); err != nil {
				return models.SessionPatch{}, nil, err
			}
			guard = overlapGuard(*cur.TrainerID, cur)
		}

		status := models.SessionScheduled
		return models.SessionPatch{Status: &status, ClientID: &clientID}, guard, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(models.EventSessionBooked, actor, updated)

	return updated, nil
}

func (s *Service) bookingClient(actor models.Actor, requested string) (string, error) {
	switch actor.Role {
	case models.RoleClient:
		if requested != "" && requested != actor.UserID {
			return "", response.Rule(response.ErrForbidden, "clients book only for themselves")
		}
		return actor.UserID, nil
	case models.RoleTrainer, models.RoleAdmin:
		if requested == "" {
			return "", response.Rule(response.ErrValidation, "client_id is required")
		}
		return requested, nil
	}
	return "", response.Rule(response.ErrForbidden, "role %s may not book", actor.Role)
}

// Cancel is open to the session's client, its trainer and admins.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, id, reason string) (sess *models.Session, err error) {
	const op = "service.Cancel"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("cancel", err, started) }()

	updated, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if !actor.IsAdmin() && !cur.HasClient(actor.UserID) && !cur.HasTrainer(actor.UserID) {
			return models.SessionPatch{}, nil, response.Rule(response.ErrForbidden, "not a party to this session")
		}
		if cur.Status != models.SessionScheduled && cur.Status != models.SessionConfirmed {
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "cannot cancel a %s session", cur.Status)
		}

		status := models.SessionCancelled
		patch := models.SessionPatch{Status: &status, CancelledBy: &actor.UserID}
		if reason = strings.TrimSpace(reason); reason != "" {
			patch.CancellationReason = &reason
		}
		return patch, nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(models.EventSessionCancelled, actor, updated)

	return updated, nil
}

func (s *Service) Confirm(ctx context.Context, actor models.Actor, id string) (sess *models.Session, err error) {
	const op = "service.Confirm"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("confirm", err, started) }()

	if err := requireStaff(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if actor.Role == models.RoleTrainer && !cur.HasTrainer(actor.UserID) {
			return models.SessionPatch{}, nil, response.Rule(response.ErrForbidden, "session is assigned to another trainer")
		}
		if cur.Status != models.SessionScheduled {
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "cannot confirm a %s session", cur.Status)
		}
		if cur.TrainerID == nil {
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "a trainer must be assigned before confirmation")
		}
		if err := s.requireActiveTrainer(ctx, *cur.TrainerID); err != nil {
			return models.SessionPatch{}, nil, err
		}

		status := models.SessionConfirmed
		return models.SessionPatch{Status: &status}, nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(models.EventSessionConfirmed, actor, updated)

	return updated, nil
}

// Complete may run after the session time has passed. Notes are appended to any the
// session already carries.
func (s *Service) Complete(ctx context.Context, actor models.Actor, id, notes string) (sess *models.Session, err error) {
	const op = "service.Complete"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("complete", err, started) }()

	if err := requireStaff(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if actor.Role == models.RoleTrainer && !cur.HasTrainer(actor.UserID) {
			return models.SessionPatch{}, nil, response.Rule(response.ErrForbidden, "session is assigned to another trainer")
		}
		if cur.Status != models.SessionConfirmed {
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "cannot complete a %s session", cur.Status)
		}
		if cur.TrainerID != nil {
			if err := s.requireActiveTrainer(ctx, *cur.TrainerID); err != nil {
				return models.SessionPatch{}, nil, err
			}
		}

		status := models.SessionCompleted
		patch := models.SessionPatch{Status: &status}
		if merged := appendNotes(cur.Notes, notes); merged != cur.Notes {
			patch.Notes = &merged
		}
		return patch, nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(models.EventSessionCompleted, actor, updated)

	return updated, nil
}

// AddNotes replaces the notes of a session. It is open to the session's parties in
// every status, terminal ones included, and never touches the lifecycle fields.
func (s *Service) AddNotes(ctx context.Context, actor models.Actor, id, notes string) (sess *models.Session, err error) {
	const op = "service.AddNotes"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("notes", err, started) }()

	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "notes are required"))
	}

	return s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if !actor.IsAdmin() && !cur.HasClient(actor.UserID) && !cur.HasTrainer(actor.UserID) {
			return models.SessionPatch{}, nil, response.Rule(response.ErrForbidden, "not a party to this session")
		}
		return models.SessionPatch{Notes: &notes}, nil, nil
	})
}

// AssignTrainer staffs a non-terminal session. The status is left as it is.
func (s *Service) AssignTrainer(ctx context.Context, actor models.Actor, id, trainerID string) (sess *models.Session, err error) {
	const op = "service.AssignTrainer"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("assign_trainer", err, started) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrForbidden, "only admins assign trainers"))
	}

	trainerID = strings.TrimSpace(trainerID)
	if trainerID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "trainer_id is required"))
	}

	trainer, err := s.lookupUser(ctx, op, trainerID)
	if err != nil {
		return nil, err
	}
	if trainer.Role != models.RoleTrainer {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "user %s is not a trainer", trainerID))
	}
	if !trainer.Usable() {
		return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrValidation, "trainer %s is inactive", trainerID))
	}

	updated, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		if cur.Status.Terminal() {
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "session is %s", cur.Status)
		}

		return models.SessionPatch{TrainerID: &trainerID}, overlapGuard(trainerID, cur), nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(models.EventSessionAssigned, actor, updated)

	return updated, nil
}

// Delete soft-deletes a session that carries no live booking.
func (s *Service) Delete(ctx context.Context, actor models.Actor, id string) (err error) {
	const op = "service.Delete"

	started := time.Now()
	defer func() { s.metrics.ObserveTransition("delete", err, started) }()

	if !actor.IsAdmin() {
		return fmt.Errorf("%s: %w", op, response.Rule(response.ErrForbidden, "only admins delete sessions"))
	}

	deleted, err := s.transition(ctx, op, id, func(cur *models.Session) (models.SessionPatch, *models.OverlapGuard, error) {
		switch cur.Status {
		case models.SessionAvailable, models.SessionBlocked, models.SessionCancelled:
		default:
			return models.SessionPatch{}, nil, response.Rule(response.ErrInvalidState, "cannot delete a %s session", cur.Status)
		}

		at := s.now()
		return models.SessionPatch{DeletedAt: &at}, nil, nil
	})
	if err != nil {
		return err
	}

	s.emit(models.EventSessionDeleted, actor, deleted)

	return nil
}

func requireStaff(actor models.Actor) error {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleTrainer {
		return response.Rule(response.ErrForbidden, "role %s may not perform this action", actor.Role)
	}
	return nil
}

// requireActiveTrainer rejects transitions on sessions whose trainer has since been
// deactivated. Cancel and AssignTrainer stay open so the session can be re-staffed.
func (s *Service) requireActiveTrainer(ctx context.Context, trainerID string) error {
	trainer, err := s.lookupUser(ctx, "service.requireActiveTrainer", trainerID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return response.Rule(response.ErrConflict, "assigned trainer %s no longer exists", trainerID)
		}
		return err
	}
	if !trainer.Usable() {
		return response.Rule(response.ErrConflict, "assigned trainer %s is inactive", trainerID)
	}
	return nil
}

func (s *Service) lookupUser(ctx context.Context, op, id string) (*models.User, error) {
	var u *models.User
	err := s.retry(ctx, op, func() error {
		var err error
		u, err = s.users.GetUser(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: user %s: %w", op, id, err)
	}
	return u, nil
}

func overlapGuard(trainerID string, sess *models.Session) *models.OverlapGuard {
	start, end := sess.Window()
	return &models.OverlapGuard{TrainerID: trainerID, Start: start, End: end}
}

func appendNotes(existing, added string) string {
	added = strings.TrimSpace(added)
	switch {
	case added == "":
		return existing
	case existing == "":
		return added
	}
	return existing + "\n" + added
}
