package book

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
	"studio-schedule/internal/service"
	"studio-schedule/pkg/response"
)

type SessionBooker interface {
	Book(ctx context.Context, actor models.Actor, id string, req service.BookRequest) (*models.Session, error)
}

type Response struct {
	response.Response
	Session *api.Session `json:"session,omitempty"`
}

func New(log *slog.Logger, booker SessionBooker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.book.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := handlers.RequireActor(w, r, log)
		if !ok {
			return
		}

		var req api.BookRequest

		// Clients booking for themselves may send no body at all.
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			handlers.BadRequest(w, r, log, err, "failed to decode request")
			return
		}

		id := chi.URLParam(r, "id")

		sess, err := booker.Book(r.Context(), actor, id, service.BookRequest{
			ClientID:       req.ClientID,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			handlers.RenderError(w, r, log, err, "failed to book session")
			return
		}

		log.Info("Session booked", slog.String("session_id", sess.ID))

		out := api.FromSession(sess)
		render.JSON(w, r, Response{Session: &out})
	}
}
