package recurring

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/internal/service"
	"studio-schedule/pkg/response"
)

const dateLayout = "2006-01-02"

type SeriesCreator interface {
	CreateRecurring(ctx context.Context, actor models.Actor, spec service.RecurringSpec) ([]*models.Session, error)
	Location() *time.Location
}

type Response struct {
	response.Response
	Sessions []api.Session `json:"sessions,omitempty"`
}

func New(log *slog.Logger, creator SeriesCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.recurring.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.RecurringCreateRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		start, err := time.ParseInLocation(dateLayout, req.StartDate, creator.Location())
		if err != nil {
			handlers.BadRequest(w, r, log, err, "start_date must be YYYY-MM-DD")
			return
		}

		end, err := time.ParseInLocation(dateLayout, req.EndDate, creator.Location())
		if err != nil {
			handlers.BadRequest(w, r, log, err, "end_date must be YYYY-MM-DD")
			return
		}

		created, err := creator.CreateRecurring(r.Context(), actor, service.RecurringSpec{
			StartDate:  start,
			EndDate:    end,
			DaysOfWeek: req.DaysOfWeek,
			Times:      req.Times,
			Duration:   req.Duration,
			TrainerID:  req.TrainerID,
			Status:     models.SessionStatus(req.Status),
			Notes:      req.Notes,
		})
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to create series")
			return
		}

		log.Info("Recurring series created", slog.Int("count", len(created)))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Sessions: api.FromSessions(created),
		})
	}
}
