package authn

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
)

func TestAuthn(t *testing.T) {
	gateway := auth.NewGateway("test-secret", "studio-schedule")

	var seen auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), gateway)(next)

	token, err := gateway.IssueToken(auth.Identity{UserID: "t1", Role: models.RoleTrainer}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, auth.Identity{UserID: "t1", Role: models.RoleTrainer}, seen)

	for _, header := range []string{"", "Bearer", "Bearer nonsense", "Basic " + token} {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, header)
		assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
	}
}
