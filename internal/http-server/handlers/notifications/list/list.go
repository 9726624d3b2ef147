package list

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"studio-schedule/api"
	"studio-schedule/internal/http-server/handlers"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type NotificationLister interface {
	ListNotifications(ctx context.Context, actor models.Actor, unreadOnly bool, limit int) ([]*models.Notification, error)
}

type Response struct {
	response.Response
	Notifications []api.Notification `json:"notifications"`
}

func New(log *slog.Logger, lister NotificationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.notifications.list.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		q := r.URL.Query()

		unreadOnly := false
		if raw := q.Get("unread"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				handlers.BadRequest(w, r, log, err, "unread must be a boolean")
				return
			}
			unreadOnly = v
		}

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				handlers.BadRequest(w, r, log, err, "limit must be an integer")
				return
			}
			limit = v
		}

		list, err := lister.ListNotifications(r.Context(), actor, unreadOnly, limit)
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to list notifications")
			return
		}

		render.JSON(w, r, Response{Notifications: FromNotifications(list)})
	}
}

func FromNotifications(list []*models.Notification) []api.Notification {
	result := make([]api.Notification, 0, len(list))
	for _, n := range list {
		result = append(result, FromNotification(n))
	}
	return result
}

func FromNotification(n *models.Notification) api.Notification {
	return api.Notification{
		ID:        n.ID,
		Type:      string(n.Type),
		Payload:   json.RawMessage(n.Payload),
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}
