package create

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/internal/service"
	"studio-schedule/pkg/response"
)

type SessionCreator interface {
	CreateSessions(ctx context.Context, actor models.Actor, specs []service.SessionSpec) ([]*models.Session, error)
}

type Request struct {
	Sessions []api.SessionCreateRequest `json:"sessions"`
}

type Response struct {
	response.Response
	Sessions []api.Session `json:"sessions,omitempty"`
}

func New(log *slog.Logger, creator SessionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.create.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		log.Debug("Request body decoded", slog.Int("sessions", len(req.Sessions)))

		specs := make([]service.SessionSpec, 0, len(req.Sessions))
		for _, s := range req.Sessions {
			specs = append(specs, service.SessionSpec{
				Start:     s.Start,
				Duration:  s.Duration,
				TrainerID: s.TrainerID,
				Status:    models.SessionStatus(s.Status),
				Notes:     s.Notes,
			})
		}

		created, err := creator.CreateSessions(r.Context(), actor, specs)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to create sessions")
			return
		}

		log.Info("Sessions created", slog.Int("count", len(created)))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Sessions: api.FromSessions(created),
		})
	}
}
