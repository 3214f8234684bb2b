package api

import (
	"encoding/json"
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"barter-exchange/internal/app"
	"barter-exchange/internal/observability"
)

// One serverless function hosts whichever services SERVICES selects; the
// runtime is built on the first request of a cold start and reused after.
var (
	buildOnce   sync.Once
	marketplace *app.Runtime
	buildErr    error
)

func Handler(w http.ResponseWriter, r *http.Request) {
	buildOnce.Do(func() {
		logger := observability.NewLogger()
		marketplace, buildErr = app.Build(app.Options{
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
			InMemory:      app.EnvBoolOrDefault("IN_MEMORY_STORES", false),
			Logger:        logger,
		})
		if buildErr != nil {
			logger.Error("bootstrap_failed", map[string]any{"error": buildErr.Error()})
		}
	})

	if buildErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "service bootstrap failed", "code": "unavailable"})
		return
	}

	marketplace.Handler.ServeHTTP(w, r)
}
