package http

import (
	"net/http"

	"farmjobs/internal/auth"
	"farmjobs/internal/config"
	"farmjobs/internal/http/handler"
	mw "farmjobs/internal/http/middleware"
	"farmjobs/internal/jobs"
	"farmjobs/internal/telemetry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, repo *jobs.Repo) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", telemetry.Handler())

	ah := &handler.AuthHandler{DB: db, JWT: jwtSvc}
	r.Post("/admin/login", ah.Login)

	jh := &handler.JobsHandler{Repo: repo}
	r.Route("/admin/jobs", func(r chi.Router) {
		r.Use(auth.RequireAdmin(jwtSvc))

		r.Get("/", jh.List)
		r.Get("/stats", jh.Stats)
		r.Get("/{id}", jh.Get)
	})

	return r
}
