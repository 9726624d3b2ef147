package assign

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

type TrainerAssigner interface {
	AssignTrainer(ctx context.Context, actor models.Actor, id, trainerID string) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, assigner TrainerAssigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.assign.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.AssignTrainerRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		sess, err := assigner.AssignTrainer(r.Context(), actor, chi.URLParam(r, "id"), req.TrainerID)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to assign trainer")
			return
		}

		log.Info("Trainer assigned",
			slog.String("session_id", sess.ID),
			slog.String("trainer_id", req.TrainerID),
		)

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
