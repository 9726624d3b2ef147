package complete

import (
	"context"
	"errors"
	"io"
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

type SessionCompleter interface {
	Complete(ctx context.Context, actor models.Actor, id, notes string) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, completer SessionCompleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.complete.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.CompleteRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		sess, err := completer.Complete(r.Context(), actor, chi.URLParam(r, "id"), req.Notes)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to complete session")
			return
		}

		log.Info("Session completed", slog.String("session_id", sess.ID))

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
