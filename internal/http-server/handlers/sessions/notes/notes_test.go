package notes

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

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type stubEditor struct {
	gotID    string
	gotNotes string
	err      error
}

func (s *stubEditor) AddNotes(_ context.Context, _ models.Actor, id, notes string) (*models.Session, error) {
	s.gotID, s.gotNotes = id, notes
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: id, Status: models.SessionCompleted, Notes: notes}, nil
}

func TestNotesHandler(t *testing.T) {
	trainer := &auth.Identity{UserID: "t1", Role: models.RoleTrainer}

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
			name:       "completed session",
			identity:   trainer,
			body:       `{"notes":"great form"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "no identity",
			body:       `{"notes":"x"}`,
			wantStatus: http.StatusUnauthorized,
			wantCode:   string(response.UNAUTHORIZED),
		},
		{
			name:       "malformed body",
			identity:   trainer,
			body:       `{"notes":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   string(response.BAD_REQUEST),
		},
		{
			name:     "not a party",
			identity: trainer,
			body:     `{"notes":"x"}`,
			err: fmt.Errorf("service.AddNotes: %w",
				response.Rule(response.ErrForbidden, "not a party to this session")),
			wantStatus: http.StatusForbidden,
			wantCode:   string(response.FORBIDDEN),
			wantMsg:    "not a party to this session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			editor := &stubEditor{err: tt.err}

			router := chi.NewRouter()
			router.Put("/sessions/{id}/notes", New(slog.New(slog.NewTextHandler(io.Discard, nil)), editor))

			req := httptest.NewRequest(http.MethodPut, "/sessions/s1/notes", strings.NewReader(tt.body))
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
				return
			}

			require.NotNil(t, resp.Session)
			assert.Equal(t, "s1", editor.gotID)
			assert.Equal(t, "great form", editor.gotNotes)
			assert.Equal(t, "great form", resp.Session.Notes)
		})
	}
}
