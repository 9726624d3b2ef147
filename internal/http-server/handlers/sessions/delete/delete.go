package delete

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
)

type SessionDeleter interface {
	Delete(ctx context.Context, actor models.Actor, id string) error
}

func New(log *slog.Logger, deleter SessionDeleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.delete.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")

		if err := deleter.Delete(r.Context(), actor, id); err != nil {
			handlers.RenderError(w, r, log, err, "failed to delete session")
			return
		}

		log.Info("Session deleted", slog.String("session_id", id))

		render.NoContent(w, r)
	}
}
