package stats

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

type StatsProvider interface {
	Stats(ctx context.Context, actor models.Actor, from, to *time.Time) (*service.Stats, error)
}

type Response struct {
	response.Response
	Stats *api.Stats `json:"stats,omitempty"`
}

func New(log *slog.Logger, provider StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.stats.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var from, to *time.Time
		for name, dst := range map[string]**time.Time{"from": &from, "to": &to} {
			raw := r.URL.Query().Get(name)
			if raw == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				handlers.BadRequest(w, r, log, err, name+" must be RFC3339")
				return
			}
			*dst = &t
		}

		st, err := provider.Stats(r.Context(), actor, from, to)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to compute stats")
			return
		}

		out := &api.Stats{Total: st.Total, ByStatus: make(map[string]int, len(st.ByStatus))}
		for status, n := range st.ByStatus {
			out.ByStatus[string(status)] = n
		}

		render.JSON(w, r, Response{Stats: out})
	}
}
