package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS for the admin console; the API it guards is read-only apart from login.
func CORS(allowedOrigins []string, allowCredentials bool) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: allowCredentials,
		// console polls job status; cache preflights for ten minutes
		MaxAge: 600,
	})
}
