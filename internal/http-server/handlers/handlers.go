// Package handlers holds the helpers shared by the per-route handler packages.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
	"studio-schedule/pkg/sl"
)

// Actor returns the caller resolved by the authentication middleware.
func Actor(r *http.Request) (models.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return models.Actor{}, false
	}
	return id.Actor(), true
}

// RequireActor writes 401 and returns false when the request carries no identity.
func RequireActor(w http.ResponseWriter, r *http.Request, log *slog.Logger) (models.Actor, bool) {
	actor, ok := Actor(r)
	if !ok {
		log.Warn("request without identity")
		RenderError(w, r, log, response.ErrUnauthorized, "authentication required")
		return models.Actor{}, false
	}
	return actor, true
}

// RenderError maps err onto its status and error body. Unexpected errors are logged at
// error level, caller mistakes at info.
func RenderError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, fallback string) {
	status, body := response.FromError(err, fallback)

	if status >= http.StatusInternalServerError && !errors.Is(err, response.ErrUnavailable) {
		log.Error(fallback, sl.Err(err))
	} else {
		log.Info("request rejected", slog.Int("status", status), sl.Err(err))
	}

	render.Status(r, status)
	render.JSON(w, r, body)
}

// BadRequest renders a decode or parameter failure.
func BadRequest(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, msg string) {
	log.Error(msg, sl.Err(err))

	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(string(response.BAD_REQUEST), msg))
}
