package overlapping

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type OverlapFinder interface {
	FindOverlapping(ctx context.Context, actor models.Actor, trainerID string, start, end time.Time) ([]*models.Session, error)
}

type Response struct {
	response.Response
	Sessions []api.Session `json:"sessions"`
}

// New serves GET /trainers/{id}/sessions/overlapping?start=..&end=..
func New(log *slog.Logger, finder OverlapFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.overlapping.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		if err != nil {
			handlers.BadRequest(w, r, log, err, "start must be RFC3339")
			return
		}

		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		if err != nil {
			handlers.BadRequest(w, r, log, err, "end must be RFC3339")
			return
		}

		sessions, err := finder.FindOverlapping(r.Context(), actor, chi.URLParam(r, "id"), start, end)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to find overlapping sessions")
			return
		}

		render.JSON(w, r, Response{Sessions: api.FromSessions(sessions)})
	}
}
