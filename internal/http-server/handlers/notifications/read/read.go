package read

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/http-server/handlers/notifications/list"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type NotificationMarker interface {
	MarkNotificationRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error)
}

type Response struct {
	response.Response
	Notification *api.Notification `json:"notification,omitempty"`
}

func New(log *slog.Logger, marker NotificationMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.notifications.read.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		n, err := marker.MarkNotificationRead(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to mark notification read")
			return
		}

		out := list.FromNotification(n)
		render.JSON(w, r, Response{Notification: &out})
	}
}
