package confirm

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type SessionConfirmer interface {
	Confirm(ctx context.Context, actor models.Actor, id string) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, confirmer SessionConfirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.confirm.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		sess, err := confirmer.Confirm(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to confirm session")
			return
		}

		log.Info("Session confirmed", slog.String("session_id", sess.ID))

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
