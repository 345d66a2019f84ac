package httpserver

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// NewCORS builds the origin policy for ALLOWED_ORIGINS. An empty list allows
// any origin.
func NewCORS(allowedOrigins []string) *cors.Cors {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

// originMiddleware rejects browser requests from origins outside the allow
// list. cors.Handler alone only withholds headers, which still lets simple
// cross-origin POSTs reach handlers.
func originMiddleware(c *cors.Cors, enforce bool) Middleware {
	return func(next http.Handler) http.Handler {
		if !enforce {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get("Origin")) != "" && !c.OriginAllowed(r) {
				WriteJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
