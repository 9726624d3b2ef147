package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
	"studio-schedule/internal/service"
	"studio-schedule/pkg/response"
)

type stubRequester struct {
	gotActor models.Actor
	gotSpec  service.RequestSpec
	err      error
}

func (s *stubRequester) RequestSession(_ context.Context, actor models.Actor, spec service.RequestSpec) (*models.Session, error) {
	s.gotActor, s.gotSpec = actor, spec
	if s.err != nil {
		return nil, s.err
	}

	client := actor.UserID
	return &models.Session{
		ID:          "r1",
		SessionDate: spec.Start,
		Duration:    spec.Duration,
		Status:      models.SessionScheduled,
		ClientID:    &client,
		Notes:       spec.Notes,
	}, nil
}

func TestRequestHandler(t *testing.T) {
	client := &auth.Identity{UserID: "c1", Role: models.RoleClient}
	start := time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		identity   *auth.Identity
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "created",
			identity:   client,
			body:       `{"start":"2026-04-02T18:00:00Z","duration":45,"notes":"knee"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "no identity",
			body:       `{}`,
			wantStatus: http.StatusUnauthorized,
			wantCode:   string(response.UNAUTHORIZED),
		},
		{
			name:       "malformed body",
			identity:   client,
			body:       `{"start":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   string(response.BAD_REQUEST),
		},
		{
			name:       "past start",
			identity:   client,
			body:       `{"start":"2020-01-01T10:00:00Z"}`,
			err:        response.ErrInThePast,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   string(response.IN_THE_PAST),
		},
		{
			name:     "not a client",
			identity: &auth.Identity{UserID: "t1", Role: models.RoleTrainer},
			body:     `{"start":"2026-04-02T18:00:00Z"}`,
			err: fmt.Errorf("service.RequestSession: %w",
				response.Rule(response.ErrForbidden, "only clients request sessions")),
			wantStatus: http.StatusForbidden,
			wantCode:   string(response.FORBIDDEN),
			wantMsg:    "only clients request sessions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requester := &stubRequester{err: tt.err}

			router := chi.NewRouter()
			router.Post("/sessions/request", New(slog.New(slog.NewTextHandler(io.Discard, nil)), requester))

			req := httptest.NewRequest(http.MethodPost, "/sessions/request", strings.NewReader(tt.body))
			if tt.identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), *tt.identity))
			}

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, resp.Code)
				if tt.wantMsg != "" {
					assert.Equal(t, tt.wantMsg, resp.Message)
				}
				assert.Nil(t, resp.Session)
				return
			}

			require.NotNil(t, resp.Session)
			assert.Equal(t, "r1", resp.Session.ID)
			assert.Equal(t, "scheduled", resp.Session.Status)
			assert.Equal(t, client.Actor(), requester.gotActor)
			assert.True(t, start.Equal(requester.gotSpec.Start))
			assert.Equal(t, 45, requester.gotSpec.Duration)
			assert.Equal(t, "knee", requester.gotSpec.Notes)
		})
	}
}
