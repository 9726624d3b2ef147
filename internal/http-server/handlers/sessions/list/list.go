package list

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

const dateLayout = "2006-01-02"

type SessionLister interface {
	FindByDay(ctx context.Context, actor models.Actor, day time.Time, filter models.SessionFilter) ([]*models.Session, error)
	FindRange(ctx context.Context, actor models.Actor, filter models.SessionFilter) ([]*models.Session, error)
	Location() *time.Location
}

type Response struct {
	response.Response
	Sessions []api.Session `json:"sessions"`
}

// New serves GET /sessions. With date it returns one calendar day, otherwise the
// optional from/to range.
func New(log *slog.Logger, lister SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.list.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		q := r.URL.Query()

		filter, err := parseFilter(q.Get("trainer_id"), q.Get("client_id"), q.Get("status"), q.Get("include_cancelled"))
		if err != nil {
			handlers.BadRequest(w, r, log, err, err.Error())
			return
		}

		var sessions []*models.Session

		if date := q.Get("date"); date != "" {
			day, perr := time.ParseInLocation(dateLayout, date, lister.Location())
			if perr != nil {
				handlers.BadRequest(w, r, log, perr, "date must be YYYY-MM-DD")
				return
			}
			sessions, err = lister.FindByDay(r.Context(), actor, day, filter)
		} else {
			if filter.From, err = parseTime(q.Get("from")); err != nil {
				handlers.BadRequest(w, r, log, err, "from must be RFC3339")
				return
			}
			if filter.To, err = parseTime(q.Get("to")); err != nil {
				handlers.BadRequest(w, r, log, err, "to must be RFC3339")
				return
			}
			sessions, err = lister.FindRange(r.Context(), actor, filter)
		}

		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to list sessions")
			return
		}

		render.JSON(w, r, Response{
			Sessions: api.FromSessions(sessions),
		})
	}
}

func parseFilter(trainerID, clientID, status, includeCancelled string) (models.SessionFilter, error) {
	var f models.SessionFilter

	if trainerID != "" {
		f.TrainerID = &trainerID
	}
	if clientID != "" {
		f.ClientID = &clientID
	}
	if status != "" {
		st := models.SessionStatus(status)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", status)
		}
		f.Statuses = []models.SessionStatus{st}
	}
	if includeCancelled != "" {
		v, err := strconv.ParseBool(includeCancelled)
		if err != nil {
			return f, fmt.Errorf("include_cancelled must be a boolean")
		}
		f.IncludeCancelled = v
	}

	return f, nil
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
