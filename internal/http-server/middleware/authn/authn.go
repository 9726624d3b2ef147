package authn

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"studio-schedule/internal/auth"
	"studio-schedule/pkg/response"
	"studio-schedule/pkg/sl"
)

type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// New resolves the bearer token into an identity and stores it on the request context.
// Requests without a valid token stop here with 401.
func New(log *slog.Logger, authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		log := log.With(
			slog.String("component", "middleware/authn"),
		)

		fn := func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				token = ""
			}

			id, err := authn.Authenticate(strings.TrimSpace(token))
			if err != nil {
				log.Info("authentication failed",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(err),
				)
				status, body := response.FromError(err, "authentication failed")
				render.Status(r, status)
				render.JSON(w, r, body)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		}

		return http.HandlerFunc(fn)
	}
}
