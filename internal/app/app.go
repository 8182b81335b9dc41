// Package app wires the billing service together: config, store, guard
// backend, Stripe client, and the HTTP surface.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"reverie/internal/auth"
	"reverie/internal/billing"
	"reverie/internal/config"
	"reverie/internal/guard"
	"reverie/internal/httpapi"
	"reverie/internal/observability"
	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

// GuardBackend is the shared state behind the guard: the rate-limit counters
// and CSRF token store, plus the lifecycle hooks the app needs.
type GuardBackend interface {
	guard.Limiter
	guard.TokenStore
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Store   *store.Store
	Backend GuardBackend
	Guard   *guard.Guard
	Auth    *auth.Service
	Billing *billing.Service
	Handler *httpapi.Handler
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, st.DB()); err != nil {
		st.Close()
		return nil, err
	}

	var backend GuardBackend
	if cfg.Redis.URL != "" {
		redisStore, err := guard.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			st.Close()
			return nil, err
		}
		backend = redisStore
	} else {
		// Dev mode only; config.Load rejects this combination otherwise.
		log.Warn().Msg("no redis configured, using in-process guard state")
		backend = guard.NewMemoryStore()
	}

	g := guard.New(backend, backend, guard.Policy{
		MaxRequests:  cfg.RateLimit.MaxRequests,
		Window:       cfg.RateLimit.Window.Std(),
		FailOpen:     cfg.RateLimit.FailOpen,
		RequireCSRF:  cfg.Security.RequireCSRF,
		CSRFTokenTTL: cfg.Security.CSRFTokenTTL.Std(),
	}, log)

	authSvc := auth.NewService(cfg)
	observer := observability.NewBillingObserver(log)
	provider := stripeapi.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.APIBaseURL)
	billingSvc := billing.NewService(cfg, st, provider, observer, log)
	handler := httpapi.NewHandler(cfg, st, authSvc, billingSvc, g, log)

	return &App{
		Config:  cfg,
		Log:     log,
		Store:   st,
		Backend: backend,
		Guard:   g,
		Auth:    authSvc,
		Billing: billingSvc,
		Handler: handler,
	}, nil
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Backend != nil {
		_ = a.Backend.Close()
	}
	return err
}

func (a *App) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := a.Backend.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	a.Handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler.CORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Log.Info().Str("addr", a.Config.HTTP.Addr).Msg("listening")
	return srv.ListenAndServe()
}
