package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"barter-exchange/internal/auth"
	"barter-exchange/internal/db"
	"barter-exchange/internal/item"
	"barter-exchange/internal/message"
	"barter-exchange/internal/observability"
	"barter-exchange/internal/trade"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// InMemory swaps every Postgres store for its in-process counterpart.
	InMemory bool
	// Config overrides environment loading when set.
	Config *Config
	Logger *observability.Logger
}

type Runtime struct {
	Handler http.Handler
	Metrics *observability.Metrics
	Close   func() error
}

type stores struct {
	users    auth.CredentialStore
	items    item.Store
	trades   trade.Store
	messages message.Store
	ping     func(ctx context.Context) error
	close    func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	var cfg Config
	if options.Config != nil {
		cfg = *options.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := LoadConfig(!options.InMemory)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var (
		st  stores
		err error
	)
	if options.InMemory {
		st = memoryStores()
	} else {
		st, err = postgresStores(cfg, options.RunMigrations, logger)
		if err != nil {
			return nil, err
		}
	}

	metrics := observability.NewMetrics()

	authority, err := auth.NewAuthority(st.users, auth.AuthorityConfig{
		Issuer:       cfg.Issuer,
		AccessKey:    cfg.AccessSecret,
		RefreshKey:   cfg.RefreshSecret,
		AccessTTL:    cfg.AccessTTL,
		RefreshTTL:   cfg.RefreshTTL,
		PasswordCost: cfg.PasswordCost,
	}, auth.WithIssueRecorder(metrics))
	if err != nil {
		_ = st.close()
		return nil, fmt.Errorf("init token authority: %w", err)
	}

	if cfg.Services[ServiceIdentity] {
		if err := authority.BootstrapAdmin(context.Background(), cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			_ = st.close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	mux := http.NewServeMux()
	if err := registerRoutes(mux, routeDeps{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		authority: authority,
		stores:    st,
	}); err != nil {
		_ = st.close()
		return nil, err
	}
	mux.HandleFunc("GET /health", healthHandler(st.ping, cfg.Services))
	mux.Handle("GET /metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Refresh-Token"},
		AllowCredentials: true,
	})

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			corsHandler.Handler(metrics.Instrument(mux))))

	return &Runtime{
		Handler: handler,
		Metrics: metrics,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			return st.close()
		},
	}, nil
}

func memoryStores() stores {
	items := item.NewMemoryStore()
	trades := trade.NewMemoryStore(items)
	return stores{
		users:    auth.NewMemoryStore(),
		items:    items,
		trades:   trades,
		messages: message.NewMemoryStore(trades),
		ping:     func(context.Context) error { return nil },
		close:    func() error { return nil },
	}
}

func postgresStores(cfg Config, runMigrations bool, logger *observability.Logger) (stores, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return stores{}, fmt.Errorf("ping database: %w", err)
	}

	if runMigrations {
		applied, err := db.Migrate(context.Background(), database)
		if err != nil {
			_ = database.Close()
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	items := item.NewRepository(database)
	trades := trade.NewRepository(database, items)
	return stores{
		users:    auth.NewRepository(database),
		items:    items,
		trades:   trades,
		messages: message.NewRepository(database, trades),
		ping:     database.PingContext,
		close:    database.Close,
	}, nil
}

func healthHandler(ping func(ctx context.Context) error, services map[string]bool) http.HandlerFunc {
	mounted := make([]string, 0, len(services))
	for _, name := range []string{ServiceIdentity, ServiceCatalog, ServiceNegotiation} {
		if services[name] {
			mounted = append(mounted, name)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "services": mounted, "time": time.Now().UTC().Format(time.RFC3339)}
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
