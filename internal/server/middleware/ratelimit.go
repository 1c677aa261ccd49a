package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that caps total requests per client
// to the specified number per minute. This is a coarse transport-level
// backstop; the per-action limits of the authentication flows are enforced
// separately in the security service.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ClientID(r), nil
		}),
	)
}
