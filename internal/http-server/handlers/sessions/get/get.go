package get

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

type SessionGetter interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, getter SessionGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")

		sess, err := getter.Get(r.Context(), actor, id)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to get session")
			return
		}

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
