package request

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

type SessionRequester interface {
	RequestSession(ctx context.Context, actor models.Actor, spec service.RequestSpec) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, requester SessionRequester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.request.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.SessionRequestRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		sess, err := requester.RequestSession(r.Context(), actor, service.RequestSpec{
			Start:    req.Start,
			Duration: req.Duration,
			Notes:    req.Notes,
		})
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to request session")
			return
		}

		log.Info("Session requested", slog.String("session_id", sess.ID))

		out := api.FromSession(sess)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{Session: &out})
	}
}
