package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/models"
	"studio-schedule/internal/storage/memory"
	"studio-schedule/pkg/response"
)

var (
	admin    = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	admin2   = models.Actor{UserID: "admin-2", Role: models.RoleAdmin}
	trainer1 = models.Actor{UserID: "trainer-1", Role: models.RoleTrainer}
	trainer2 = models.Actor{UserID: "trainer-2", Role: models.RoleTrainer}
	clientA  = models.Actor{UserID: "client-a", Role: models.RoleClient}
	clientB  = models.Actor{UserID: "client-b", Role: models.RoleClient}
	visitor  = models.Actor{UserID: "visitor", Role: models.RoleUser}
)

type recorder struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (r *recorder) Emit(ev models.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *memory.Storage
	events *recorder
	now    time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		events: &recorder{},
		now:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	for _, a := range []models.Actor{admin, admin2, trainer1, trainer2, clientA, clientB, visitor} {
		f.store.PutUser(models.User{ID: a.UserID, Role: a.Role, FirstName: a.UserID, IsActive: true})
	}

	f.svc = New(discardLogger(), f.store, f.store, f.store, f.events,
		WithClock(func() time.Time { return f.now }),
		WithRetry(2, time.Millisecond),
	)

	return f
}

// seed inserts a session directly, bypassing creation rules.
func (f *fixture) seed(t *testing.T, sess models.Session) *models.Session {
	t.Helper()

	if sess.ID == "" {
		sess.ID = "s-" + time.Now().Format("150405.000000000")
	}
	if sess.Duration == 0 {
		sess.Duration = 60
	}
	if sess.Status == "" {
		sess.Status = models.SessionAvailable
	}
	sess.EndTime = sess.SessionDate.Add(time.Duration(sess.Duration) * time.Minute)

	require.NoError(t, f.store.CreateSessions(context.Background(), []*models.Session{&sess}))

	return &sess
}

func ptr(s string) *string { return &s }

func TestBookThenDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s1 := f.seed(t, models.Session{ID: "s1", SessionDate: f.now.Add(time.Hour)})

	booked, err := f.svc.Book(ctx, clientA, s1.ID, BookRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, booked.Status)
	assert.True(t, booked.HasClient(clientA.UserID))

	_, err = f.svc.Book(ctx, clientB, s1.ID, BookRequest{})
	assert.ErrorIs(t, err, response.ErrNotAvailable)

	stored, err := f.store.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasClient(clientA.UserID))
}

func TestFullHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s1 := f.seed(t, models.Session{ID: "s1", SessionDate: f.now.Add(time.Hour)})

	sess, err := f.svc.Book(ctx, clientA, s1.ID, BookRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, sess.Status)

	sess, err = f.svc.AssignTrainer(ctx, admin, s1.ID, trainer1.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, sess.Status)
	assert.True(t, sess.HasTrainer(trainer1.UserID))

	sess, err = f.svc.Confirm(ctx, trainer1, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, sess.Status)

	sess, err = f.svc.Complete(ctx, trainer1, s1.ID, "great session")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.Equal(t, "great session", sess.Notes)

	_, err = f.svc.Cancel(ctx, clientA, s1.ID, "changed mind")
	assert.ErrorIs(t, err, response.ErrInvalidState)

	assert.Equal(t, []models.EventType{
		models.EventSessionBooked,
		models.EventSessionAssigned,
		models.EventSessionConfirmed,
		models.EventSessionCompleted,
	}, f.events.types())
}

func TestBookInThePast(t *testing.T) {
	f := newFixture(t)
	s2 := f.seed(t, models.Session{ID: "s2", SessionDate: f.now.Add(-time.Hour)})

	_, err := f.svc.Book(context.Background(), clientA, s2.ID, BookRequest{})
	assert.ErrorIs(t, err, response.ErrInThePast)
}

func TestAssignTrainerConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(2 * time.Hour)

	s3 := f.seed(t, models.Session{ID: "s3", SessionDate: start, Status: models.SessionScheduled, ClientID: ptr(clientA.UserID)})
	s4 := f.seed(t, models.Session{ID: "s4", SessionDate: start.Add(30 * time.Minute), Status: models.SessionScheduled, ClientID: ptr(clientA.UserID)})

	_, err := f.svc.AssignTrainer(ctx, admin, s3.ID, trainer1.UserID)
	require.NoError(t, err)

	_, err = f.svc.AssignTrainer(ctx, admin, s4.ID, trainer1.UserID)
	assert.ErrorIs(t, err, response.ErrConflict)

	stored, err := f.store.GetSession(ctx, s4.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TrainerID)
}

func TestForbiddenCancel(t *testing.T) {
	f := newFixture(t)
	s5 := f.seed(t, models.Session{
		ID:          "s5",
		SessionDate: f.now.Add(time.Hour),
		Status:      models.SessionScheduled,
		ClientID:    ptr(clientA.UserID),
		TrainerID:   ptr(trainer2.UserID),
	})

	_, err := f.svc.Cancel(context.Background(), clientB, s5.ID, "n/a")
	assert.ErrorIs(t, err, response.ErrForbidden)

	stored, err := f.store.GetSession(context.Background(), s5.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, stored.Status)
	assert.Empty(t, f.events.types())
}

func TestCancelByEachParty(t *testing.T) {
	for _, actor := range []models.Actor{clientA, trainer2, admin} {
		t.Run(string(actor.Role), func(t *testing.T) {
			f := newFixture(t)
			sess := f.seed(t, models.Session{
				ID:          "s",
				SessionDate: f.now.Add(time.Hour),
				Status:      models.SessionConfirmed,
				ClientID:    ptr(clientA.UserID),
				TrainerID:   ptr(trainer2.UserID),
			})

			got, err := f.svc.Cancel(context.Background(), actor, sess.ID, "  sick  ")
			require.NoError(t, err)
			assert.Equal(t, models.SessionCancelled, got.Status)
			require.NotNil(t, got.CancelledBy)
			assert.Equal(t, actor.UserID, *got.CancelledBy)
			require.NotNil(t, got.CancellationReason)
			assert.Equal(t, "sick", *got.CancellationReason)
		})
	}
}

func TestConcurrentBookingHasOneWinner(t *testing.T) {
	f := newFixture(t)
	sess := f.seed(t, models.Session{ID: "race", SessionDate: f.now.Add(time.Hour), TrainerID: ptr(trainer1.UserID)})

	const racers = 16
	clients := make([]string, racers)
	for i := range clients {
		clients[i] = "racer-" + string(rune('a'+i))
		f.store.PutUser(models.User{ID: clients[i], Role: models.RoleClient, IsActive: true})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)

	start := make(chan struct{})
	for _, id := range clients {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start

			_, err := f.svc.Book(context.Background(), models.Actor{UserID: id, Role: models.RoleClient}, sess.ID, BookRequest{})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, response.ErrNotAvailable), errors.Is(err, response.ErrConflict):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, racers-1, losers)

	stored, err := f.store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasClient(winners[0]))
}

func TestStateMachineClosure(t *testing.T) {
	allowed := map[string][]models.SessionStatus{
		"book":     {models.SessionAvailable},
		"cancel":   {models.SessionScheduled, models.SessionConfirmed},
		"confirm":  {models.SessionScheduled},
		"complete": {models.SessionConfirmed},
		"assign":   {models.SessionAvailable, models.SessionBlocked, models.SessionScheduled, models.SessionConfirmed},
	}

	ops := map[string]func(f *fixture, id string) error{
		"book": func(f *fixture, id string) error {
			_, err := f.svc.Book(context.Background(), admin, id, BookRequest{ClientID: clientB.UserID})
			return err
		},
		"cancel": func(f *fixture, id string) error {
			_, err := f.svc.Cancel(context.Background(), admin, id, "")
			return err
		},
		"confirm": func(f *fixture, id string) error {
			_, err := f.svc.Confirm(context.Background(), admin, id)
			return err
		},
		"complete": func(f *fixture, id string) error {
			_, err := f.svc.Complete(context.Background(), admin, id, "")
			return err
		},
		"assign": func(f *fixture, id string) error {
			_, err := f.svc.AssignTrainer(context.Background(), admin, id, trainer1.UserID)
			return err
		},
	}

	statuses := []models.SessionStatus{
		models.SessionAvailable,
		models.SessionBlocked,
		models.SessionScheduled,
		models.SessionConfirmed,
		models.SessionCompleted,
		models.SessionCancelled,
	}

	for name, op := range ops {
		for _, status := range statuses {
			t.Run(name+"/"+string(status), func(t *testing.T) {
				f := newFixture(t)

				sess := models.Session{ID: "s", SessionDate: f.now.Add(time.Hour), Status: status}
				if status.Booked() || status == models.SessionCancelled {
					sess.ClientID = ptr(clientA.UserID)
				}
				if status == models.SessionScheduled || status == models.SessionConfirmed || status == models.SessionCompleted {
					sess.TrainerID = ptr(trainer1.UserID)
				}
				before := f.seed(t, sess)

				err := op(f, before.ID)

				after, gerr := f.store.GetSession(context.Background(), before.ID)
				require.NoError(t, gerr)

				for _, ok := range allowed[name] {
					if ok == status {
						require.NoError(t, err)
						return
					}
				}

				if name == "book" {
					assert.ErrorIs(t, err, response.ErrNotAvailable)
				} else {
					assert.ErrorIs(t, err, response.ErrInvalidState)
				}
				assert.Equal(t, before.Status, after.Status)
				assert.Equal(t, before.ClientID, after.ClientID)
				assert.Equal(t, before.TrainerID, after.TrainerID)
			})
		}
	}
}

func TestRoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.seed(t, models.Session{
		ID:          "s",
		SessionDate: f.now.Add(time.Hour),
		Status:      models.SessionScheduled,
		ClientID:    ptr(clientA.UserID),
		TrainerID:   ptr(trainer1.UserID),
	})

	_, err := f.svc.Confirm(ctx, clientA, sess.ID)
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = f.svc.Confirm(ctx, trainer2, sess.ID)
	assert.ErrorIs(t, err, response.ErrForbidden, "only the assigned trainer confirms")

	_, err = f.svc.AssignTrainer(ctx, trainer1, sess.ID, trainer2.UserID)
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = f.svc.AssignTrainer(ctx, admin, sess.ID, "")
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = f.svc.AssignTrainer(ctx, admin, sess.ID, clientB.UserID)
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = f.svc.AssignTrainer(ctx, admin, sess.ID, "ghost")
	assert.ErrorIs(t, err, response.ErrNotFound)

	_, err = f.svc.AssignTrainer(ctx, admin, "missing", trainer2.UserID)
	assert.ErrorIs(t, err, response.ErrNotFound)

	_, err = f.svc.Book(ctx, visitor, sess.ID, BookRequest{})
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = f.svc.Book(ctx, clientA, sess.ID, BookRequest{ClientID: clientB.UserID})
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = f.svc.Book(ctx, admin, sess.ID, BookRequest{})
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = f.svc.Confirm(ctx, trainer1, "missing")
	assert.ErrorIs(t, err, response.ErrNotFound)
}

func TestConfirmRequiresTrainer(t *testing.T) {
	f := newFixture(t)
	sess := f.seed(t, models.Session{
		ID:          "s",
		SessionDate: f.now.Add(time.Hour),
		Status:      models.SessionScheduled,
		ClientID:    ptr(clientA.UserID),
	})

	_, err := f.svc.Confirm(context.Background(), admin, sess.ID)
	assert.ErrorIs(t, err, response.ErrInvalidState)
}

func TestTerminalSessionsStayImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, status := range []models.SessionStatus{models.SessionCompleted, models.SessionCancelled} {
		sess := f.seed(t, models.Session{
			ID:          "t-" + string(status),
			SessionDate: f.now.Add(time.Duration(i+1) * 2 * time.Hour),
			Status:      status,
			ClientID:    ptr(clientA.UserID),
			TrainerID:   ptr(trainer1.UserID),
		})

		_, err := f.svc.Book(ctx, clientB, sess.ID, BookRequest{})
		assert.Error(t, err)
		_, err = f.svc.Cancel(ctx, admin, sess.ID, "")
		assert.Error(t, err)
		_, err = f.svc.Confirm(ctx, admin, sess.ID)
		assert.Error(t, err)
		_, err = f.svc.Complete(ctx, admin, sess.ID, "late note")
		assert.Error(t, err)
		_, err = f.svc.AssignTrainer(ctx, admin, sess.ID, trainer2.UserID)
		assert.Error(t, err)

		stored, err := f.store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, status, stored.Status)
		assert.Equal(t, clientA.UserID, *stored.ClientID)
		assert.Equal(t, trainer1.UserID, *stored.TrainerID)
	}
}

func TestAddNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	statuses := []models.SessionStatus{
		models.SessionScheduled,
		models.SessionConfirmed,
		models.SessionCompleted,
		models.SessionCancelled,
	}

	for i, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			sess := f.seed(t, models.Session{
				ID:          "n-" + string(status),
				SessionDate: f.now.Add(time.Duration(i+1) * 2 * time.Hour),
				Status:      status,
				ClientID:    ptr(clientA.UserID),
				TrainerID:   ptr(trainer1.UserID),
			})

			for _, actor := range []models.Actor{clientA, trainer1, admin} {
				updated, err := f.svc.AddNotes(ctx, actor, sess.ID, "  from "+actor.UserID+"  ")
				require.NoError(t, err, actor.UserID)
				assert.Equal(t, "from "+actor.UserID, updated.Notes)
			}

			for _, actor := range []models.Actor{clientB, trainer2, visitor} {
				_, err := f.svc.AddNotes(ctx, actor, sess.ID, "sneaky")
				assert.ErrorIs(t, err, response.ErrForbidden, actor.UserID)
			}

			stored, err := f.store.GetSession(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, status, stored.Status)
			assert.Equal(t, clientA.UserID, *stored.ClientID)
			assert.Equal(t, trainer1.UserID, *stored.TrainerID)
			assert.Equal(t, "from admin-1", stored.Notes)
		})
	}

	_, err := f.svc.AddNotes(ctx, admin, "n-completed", "   ")
	assert.ErrorIs(t, err, response.ErrValidation)

	_, err = f.svc.AddNotes(ctx, admin, "missing", "note")
	assert.ErrorIs(t, err, response.ErrNotFound)

	assert.Empty(t, f.events.types())
}

func TestNoDoubleBookingAcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(3 * time.Hour)

	staffed := f.seed(t, models.Session{ID: "staffed", SessionDate: start, TrainerID: ptr(trainer1.UserID)})
	open := f.seed(t, models.Session{ID: "open", SessionDate: start.Add(15 * time.Minute), Duration: 30})
	adjacent := f.seed(t, models.Session{ID: "adjacent", SessionDate: start.Add(time.Hour)})

	_, err := f.svc.Book(ctx, clientA, staffed.ID, BookRequest{})
	require.NoError(t, err)

	_, err = f.svc.AssignTrainer(ctx, admin, open.ID, trainer1.UserID)
	assert.ErrorIs(t, err, response.ErrConflict)

	_, err = f.svc.AssignTrainer(ctx, admin, adjacent.ID, trainer1.UserID)
	require.NoError(t, err, "back-to-back sessions do not overlap")

	_, err = f.svc.Cancel(ctx, clientA, staffed.ID, "")
	require.NoError(t, err)

	_, err = f.svc.AssignTrainer(ctx, admin, open.ID, trainer1.UserID)
	require.NoError(t, err, "cancelled sessions free the window")

	active, err := f.store.FindOverlapping(ctx, trainer1.UserID, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	for i, a := range active {
		for _, b := range active[i+1:] {
			as, ae := a.Window()
			bs, be := b.Window()
			assert.False(t, as.Before(be) && bs.Before(ae), "%s overlaps %s", a.ID, b.ID)
		}
	}
}

func TestInactiveTrainerBlocksProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.seed(t, models.Session{
		ID:          "s",
		SessionDate: f.now.Add(time.Hour),
		Status:      models.SessionScheduled,
		ClientID:    ptr(clientA.UserID),
		TrainerID:   ptr(trainer1.UserID),
	})

	f.store.PutUser(models.User{ID: trainer1.UserID, Role: models.RoleTrainer, IsActive: false})

	_, err := f.svc.Confirm(ctx, admin, sess.ID)
	assert.ErrorIs(t, err, response.ErrConflict)

	_, err = f.svc.AssignTrainer(ctx, admin, sess.ID, trainer2.UserID)
	require.NoError(t, err)

	got, err := f.svc.Confirm(ctx, trainer2, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, got.Status)
}

func TestRetroactiveCompletion(t *testing.T) {
	f := newFixture(t)
	sess := f.seed(t, models.Session{
		ID:          "s",
		SessionDate: f.now.Add(-3 * time.Hour),
		Status:      models.SessionConfirmed,
		ClientID:    ptr(clientA.UserID),
		TrainerID:   ptr(trainer1.UserID),
		Notes:       "bring mat",
	})

	got, err := f.svc.Complete(context.Background(), trainer1, sess.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, "bring mat\ndone", got.Notes)
}

type flakyStore struct {
	*memory.Storage
	failures int
	calls    int
}

func (s *flakyStore) ConditionalUpdate(ctx context.Context, id string, expected models.SessionStatus, patch models.SessionPatch, guard *models.OverlapGuard) (*models.Session, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("connection reset by peer")
	}
	return s.Storage.ConditionalUpdate(ctx, id, expected, patch, guard)
}

func TestTransientStoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers within budget", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seed(t, models.Session{ID: "s", SessionDate: f.now.Add(time.Hour)})

		store := &flakyStore{Storage: f.store, failures: 2}
		svc := New(discardLogger(), store, f.store, f.store, nil,
			WithClock(func() time.Time { return f.now }),
			WithRetry(2, time.Millisecond),
		)

		got, err := svc.Book(ctx, clientA, sess.ID, BookRequest{})
		require.NoError(t, err)
		assert.Equal(t, models.SessionScheduled, got.Status)
	})

	t.Run("surfaces unavailable", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seed(t, models.Session{ID: "s", SessionDate: f.now.Add(time.Hour)})

		store := &flakyStore{Storage: f.store, failures: 10}
		svc := New(discardLogger(), store, f.store, f.store, nil,
			WithClock(func() time.Time { return f.now }),
			WithRetry(2, time.Millisecond),
		)

		_, err := svc.Book(ctx, clientA, sess.ID, BookRequest{})
		assert.ErrorIs(t, err, response.ErrUnavailable)
		assert.Equal(t, 3, store.calls)

		stored, gerr := f.store.GetSession(ctx, sess.ID)
		require.NoError(t, gerr)
		assert.Equal(t, models.SessionAvailable, stored.Status)
	})
}

// racingStore books the session for someone else right before the first write, the
// way a concurrent request would.
type racingStore struct {
	*memory.Storage
	once sync.Once
}

func (s *racingStore) ConditionalUpdate(ctx context.Context, id string, expected models.SessionStatus, patch models.SessionPatch, guard *models.OverlapGuard) (*models.Session, error) {
	s.once.Do(func() {
		status := models.SessionScheduled
		other := "client-b"
		_, _ = s.Storage.ConditionalUpdate(ctx, id, models.SessionAvailable, models.SessionPatch{Status: &status, ClientID: &other}, nil)
	})
	return s.Storage.ConditionalUpdate(ctx, id, expected, patch, guard)
}

func TestLostRaceIsRevalidated(t *testing.T) {
	f := newFixture(t)
	sess := f.seed(t, models.Session{ID: "s", SessionDate: f.now.Add(time.Hour)})

	svc := New(discardLogger(), &racingStore{Storage: f.store}, f.store, f.store, nil,
		WithClock(func() time.Time { return f.now }),
	)

	_, err := svc.Book(context.Background(), clientA, sess.ID, BookRequest{})
	assert.ErrorIs(t, err, response.ErrNotAvailable)
}

func TestIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	sess := f.seed(t, models.Session{ID: "s", SessionDate: f.now.Add(time.Hour)})

	ok, err := f.svc.locker.Lock(context.Background(), "book:key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Book(context.Background(), clientA, sess.ID, BookRequest{IdempotencyKey: "key-1"})
	assert.ErrorIs(t, err, response.ErrLocked)

	_, err = f.svc.Book(context.Background(), clientA, sess.ID, BookRequest{IdempotencyKey: "key-2"})
	require.NoError(t, err)

	ok, err = f.svc.locker.Lock(context.Background(), "book:key-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "key is released once the request finishes")
}
