package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinesia/kinesia/internal/auth"
	"github.com/kinesia/kinesia/internal/contact"
	"github.com/kinesia/kinesia/internal/observability"
	"github.com/kinesia/kinesia/internal/patients"
	"github.com/kinesia/kinesia/internal/queue"
	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/users"
	"github.com/kinesia/kinesia/internal/view"
	"github.com/kinesia/kinesia/jobs"
	"github.com/kinesia/kinesia/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware
	AdminGuard     *rbac.Guard
	Metrics        *observability.Metrics

	AuthHandler     *auth.Handler
	UsersHandler    *users.Handler
	UsersAPIHandler *users.APIHandler
	PatientsHandler *patients.Handler
	QueueHandler    *queue.Handler
	ContactHandler  *contact.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Kinesia defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		RBAC:           params.RBACMiddleware,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		authz := rbac.FromContext(r.Context())
		if authz.Principal == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		sess := shared.SessionFromContext(r.Context())
		csrfToken, _ := params.CSRFManager.EnsureToken(sess)
		data := view.TemplateData{
			Title:       "Kinesia",
			CSRFToken:   csrfToken,
			Flash:       sess.PopFlash(),
			CurrentPath: r.URL.Path,
			Authz:       authz,
			Data: map[string]any{
				"AppEnv": params.Config.AppEnv,
			},
		}
		if err := params.Templates.Render(w, http.StatusOK, "pages/home.html", data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
		}
	})

	if params.AuthHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(strictLimit())
			params.AuthHandler.MountRoutes(r)
		})
	}

	if params.AdminGuard != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(params.AdminGuard.RequireAdmin)
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.UsersAPIHandler != nil {
				r.Route("/api/users", params.UsersAPIHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	}

	if params.PatientsHandler != nil {
		r.Route("/patients", params.PatientsHandler.MountRoutes)
	}
	if params.QueueHandler != nil {
		r.Route("/queue", params.QueueHandler.MountRoutes)
	}
	if params.ContactHandler != nil {
		r.Route("/contact", func(r chi.Router) {
			r.Use(strictLimit())
			params.ContactHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler caches embedded assets in the browser for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
