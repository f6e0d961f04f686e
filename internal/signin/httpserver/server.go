package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/hanko-signin/internal/signin/forms"
	custommw "finitefield.org/hanko-signin/internal/signin/httpserver/middleware"
	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/observability"
	"finitefield.org/hanko-signin/public"
)

const (
	loginPath  = "/login"
	signupPath = "/signup"
	logoutPath = "/logout"

	defaultRequestTimeout = 60 * time.Second
)

// Config holds runtime options for the sign-in HTTP server.
type Config struct {
	Address        string
	Logger         *zap.Logger
	Provider       identity.Provider
	Authenticator  custommw.Authenticator
	Refresher      identity.TokenRefresher
	Sessions       custommw.SessionStore
	Guard          forms.Guard
	RequestTimeout time.Duration
}

// New constructs the HTTP server with middleware stack and embedded assets.
func New(cfg Config) *http.Server {
	if cfg.Provider == nil {
		panic("httpserver: identity provider is required")
	}
	if cfg.Authenticator == nil {
		panic("httpserver: authenticator is required")
	}
	if cfg.Sessions == nil {
		panic("httpserver: session store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = forms.NewMemoryGuard()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.InjectLogger(logger))
	router.Use(observability.Trace)
	router.Use(observability.RequestLogger)
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(timeout))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	staticContent, err := public.StaticFS()
	if err != nil {
		logger.Fatal("embed static", zap.Error(err))
	}
	router.Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))

	mountRoutes(router, routeOptions{
		Authenticator: cfg.Authenticator,
		Refresher:     cfg.Refresher,
		Sessions:      cfg.Sessions,
		Auth:          newAuthHandlers(cfg.Provider, guard),
	})

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type routeOptions struct {
	Authenticator custommw.Authenticator
	Refresher     identity.TokenRefresher
	Sessions      custommw.SessionStore
	Auth          *authHandlers
}

func mountRoutes(router chi.Router, opts routeOptions) {
	router.Group(func(r chi.Router) {
		r.Use(custommw.HTMX())
		r.Use(custommw.Session(opts.Sessions))
		r.Use(custommw.CSRF())

		r.Group(func(r chi.Router) {
			r.Use(custommw.NoStore)
			r.Get(loginPath, opts.Auth.LoginForm)
			r.Post(loginPath, opts.Auth.LoginSubmit)
			r.Get(signupPath, opts.Auth.SignupForm)
			r.Post(signupPath, opts.Auth.SignupSubmit)
			r.Post(logoutPath, opts.Auth.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommw.NoStore)
			r.Use(custommw.Auth(opts.Authenticator, loginPath, custommw.WithTokenRefresher(opts.Refresher)))
			r.Get(forms.HomePath, HomeHandler)
		})
	})
}
