package cancel

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

type SessionCanceller interface {
	Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, canceller SessionCanceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.cancel.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.CancelRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		sess, err := canceller.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to cancel session")
			return
		}

		log.Info("Session cancelled", slog.String("session_id", sess.ID))

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
