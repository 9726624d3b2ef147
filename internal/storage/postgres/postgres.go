package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"

	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

//go:embed schema.sql
var schema string

const sessionColumns = `id, session_date, duration, end_time, client_id, trainer_id, status,
	cancelled_by, cancellation_reason, notes, is_recurring, recurring_pattern,
	created_at, updated_at, deleted_at`

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// #### users ####

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.postgres.GetUser"

	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, first_name, last_name, email, is_active, is_locked
		FROM users WHERE id=$1`, id).
		Scan(
			&u.ID,
			&u.Role,
			&u.FirstName,
			&u.LastName,
			&u.Email,
			&u.IsActive,
			&u.IsLocked,
		)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &u, nil
}

func (s *Storage) ListUsersByRole(ctx context.Context, role models.Role) ([]*models.User, error) {
	const op = "storage.postgres.ListUsersByRole"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, first_name, last_name, email, is_active, is_locked
		FROM users
		WHERE role=$1 AND is_active=TRUE AND is_locked=FALSE
		ORDER BY id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Role, &u.FirstName, &u.LastName, &u.Email, &u.IsActive, &u.IsLocked); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// #### sessions ####

func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "storage.postgres.GetSession"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id=$1 AND deleted_at IS NULL`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

func (s *Storage) FindByDay(ctx context.Context, day time.Time, filter models.SessionFilter) ([]*models.Session, error) {
	from := day
	to := day.AddDate(0, 0, 1)
	filter.From = &from
	filter.To = &to

	return s.FindRange(ctx, filter)
}

func (s *Storage) FindRange(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	const op = "storage.postgres.FindRange"

	where, args := filterClause(filter)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+where+` ORDER BY session_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

func (s *Storage) FindOverlapping(ctx context.Context, trainerID string, start, end time.Time) ([]*models.Session, error) {
	const op = "storage.postgres.FindOverlapping"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE trainer_id=$1
		AND deleted_at IS NULL
		AND status <> 'cancelled'
		AND session_date < $3
		AND end_time > $2
		ORDER BY session_date, id`, trainerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

func (s *Storage) CountByStatus(ctx context.Context, filter models.SessionFilter) (map[models.SessionStatus]int, error) {
	const op = "storage.postgres.CountByStatus"

	where, args := filterClause(filter)

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sessions WHERE `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	counts := make(map[models.SessionStatus]int)
	for rows.Next() {
		var status models.SessionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return counts, nil
}

// CreateSessions inserts all sessions in one transaction. Trainers that receive a
// session are advisory-locked in id order before their windows are checked, the same
// lock ConditionalUpdate takes, so concurrent writers for one trainer serialise.
func (s *Storage) CreateSessions(ctx context.Context, sessions []*models.Session) error {
	const op = "storage.postgres.CreateSessions"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var trainers []string
	for _, sess := range sessions {
		if sess.TrainerID != nil && !slices.Contains(trainers, *sess.TrainerID) {
			trainers = append(trainers, *sess.TrainerID)
		}
	}
	slices.Sort(trainers)

	for _, trainerID := range trainers {
		if err := lockTrainer(ctx, tx, trainerID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, sess := range sessions {
		start, end := sess.Window()

		if sess.TrainerID != nil {
			busy, err := trainerBusy(ctx, tx, *sess.TrainerID, start, end, "")
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if busy {
				return fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "trainer %s already has a session in this window", *sess.TrainerID))
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions
			(id, session_date, duration, end_time, client_id, trainer_id, status, notes, is_recurring, recurring_pattern)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sess.ID,
			start,
			sess.Duration,
			end,
			sess.ClientID,
			sess.TrainerID,
			string(sess.Status),
			sess.Notes,
			sess.IsRecurring,
			sess.RecurringPattern,
		)
		if err != nil {
			return fmt.Errorf("%s: %w", op, mapPQError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// ConditionalUpdate applies patch only while the row still has the expected status.
// The row is locked FOR UPDATE, the optional overlap guard runs under the trainer's
// advisory lock, and the UPDATE repeats the status predicate; a mismatch anywhere
// yields response.ErrVersionConflict and leaves the row untouched.
func (s *Storage) ConditionalUpdate(ctx context.Context, id string, expected models.SessionStatus, patch models.SessionPatch, guard *models.OverlapGuard) (*models.Session, error) {
	const op = "storage.postgres.ConditionalUpdate"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if guard != nil {
		if err := lockTrainer(ctx, tx, guard.TrainerID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var current models.SessionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id).
		Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if current != expected {
		return nil, fmt.Errorf("%s: status is %s, expected %s: %w", op, current, expected, response.ErrVersionConflict)
	}

	if guard != nil {
		busy, err := trainerBusy(ctx, tx, guard.TrainerID, guard.Start, guard.End, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if busy {
			return nil, fmt.Errorf("%s: %w", op, response.Rule(response.ErrConflict, "trainer %s already has a session in this window", guard.TrainerID))
		}
	}

	sets, args := patchClause(patch)
	args = append(args, id, string(expected))

	query := fmt.Sprintf(
		`UPDATE sessions SET %s WHERE id=$%d AND status=$%d RETURNING %s`,
		strings.Join(sets, ", "),
		len(args)-1,
		len(args),
		sessionColumns,
	)

	updated, err := scanSession(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrVersionConflict)
		}

		return nil, fmt.Errorf("%s: %w", op, mapPQError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return updated, nil
}

// #### notifications ####

func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	const op = "storage.postgres.CreateNotification"

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		n.ID,
		n.RecipientID,
		string(n.Type),
		string(n.Payload),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	const op = "storage.postgres.ListNotifications"

	query := `SELECT id, recipient_id, type, payload, created_at, read_at
		FROM notifications WHERE recipient_id=$1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var result []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Payload, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error) {
	const op = "storage.postgres.MarkNotificationRead"

	var n models.Notification
	err := s.db.QueryRowContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id=$1 AND recipient_id=$2
		RETURNING id, recipient_id, type, payload, created_at, read_at`,
		id, recipientID, at).
		Scan(&n.ID, &n.RecipientID, &n.Type, &n.Payload, &n.CreatedAt, &n.ReadAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &n, nil
}

// #### helpers ####

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var sess models.Session

	err := row.Scan(
		&sess.ID,
		&sess.SessionDate,
		&sess.Duration,
		&sess.EndTime,
		&sess.ClientID,
		&sess.TrainerID,
		&sess.Status,
		&sess.CancelledBy,
		&sess.CancellationReason,
		&sess.Notes,
		&sess.IsRecurring,
		&sess.RecurringPattern,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func lockTrainer(ctx context.Context, tx *sql.Tx, trainerID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "trainer:"+trainerID); err != nil {
		return fmt.Errorf("lock trainer %s: %w", trainerID, err)
	}
	return nil
}

func trainerBusy(ctx context.Context, tx *sql.Tx, trainerID string, start, end time.Time, exclude string) (bool, error) {
	var busy bool

	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE trainer_id=$1
			AND id <> $4
			AND deleted_at IS NULL
			AND status <> 'cancelled'
			AND session_date < $3
			AND end_time > $2
		)`, trainerID, start, end, exclude).
		Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("check trainer %s: %w", trainerID, err)
	}

	return busy, nil
}

func filterClause(f models.SessionFilter) (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.From != nil {
		add("session_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("session_date < $%d", *f.To)
	}
	if f.TrainerID != nil {
		add("trainer_id = $%d", *f.TrainerID)
	}
	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if !f.IncludeCancelled && !slices.Contains(f.Statuses, models.SessionCancelled) {
		conds = append(conds, "status <> 'cancelled'")
	}

	return strings.Join(conds, " AND "), args
}

func patchClause(p models.SessionPatch) ([]string, []any) {
	sets := []string{"updated_at = now()"}
	var args []any

	set := func(col string, arg any) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.ClientID != nil {
		set("client_id", *p.ClientID)
	}
	if p.TrainerID != nil {
		set("trainer_id", *p.TrainerID)
	}
	if p.CancelledBy != nil {
		set("cancelled_by", *p.CancelledBy)
	}
	if p.CancellationReason != nil {
		set("cancellation_reason", *p.CancellationReason)
	}
	if p.Notes != nil {
		set("notes", *p.Notes)
	}
	if p.DeletedAt != nil {
		set("deleted_at", *p.DeletedAt)
	}

	return sets, args
}

func mapPQError(err error) error {
	var sqlErr *pq.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code {
	case "23505":
		return fmt.Errorf("%s: %w", sqlErr.Constraint, response.ErrConflict)
	case "23503":
		return fmt.Errorf("%s: %w", sqlErr.Constraint, response.ErrNotFound)
	case "23514":
		return fmt.Errorf("%s: %w", sqlErr.Constraint, response.ErrInvalidState)
	}

	return err
}
