package app

import (
	"fmt"
	"net/http"

	"barter-exchange/internal/auth"
	"barter-exchange/internal/item"
	"barter-exchange/internal/maintenance"
	"barter-exchange/internal/message"
	"barter-exchange/internal/observability"
	"barter-exchange/internal/trade"
)

type routeDeps struct {
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	authority *auth.Authority
	stores    stores
}

// Route groups and the single token policy each one trusts:
//
//	/auth/*                         none; credentials and the refresh key stay inside Authority
//	/admin/users/*                  access key, issuer = authority, role admin
//	/token/exchange                 access key, issuer = authority (inside Exchange)
//	/items writes, /admin/items/*   service key, audience = catalog service id
//	/trades/*, /messages/*,
//	/admin/trades/*                 service key, audience = negotiation service id
func registerRoutes(mux *http.ServeMux, deps routeDeps) error {
	cfg := deps.cfg

	accessVerifier, err := auth.NewVerifier(auth.TokenPolicy{Issuer: cfg.Issuer, KeyClass: auth.KeyClassAccess}, cfg.AccessSecret)
	if err != nil {
		return fmt.Errorf("access verifier: %w", err)
	}
	adminAccess := func(h http.HandlerFunc) http.Handler {
		return auth.RequireToken(accessVerifier, deps.metrics, auth.RequireRole(auth.RoleAdmin, h))
	}

	if cfg.Services[ServiceIdentity] {
		authHandler := auth.NewHandler(deps.authority, cfg.SecureCookies)
		loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
		cleanupHandler := maintenance.NewCleanupHandler(deps.authority, deps.logger, cfg.CronSecret, cfg.CleanupBatchSize)

		mux.HandleFunc("POST /auth/register", authHandler.Register)
		mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
		mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
		mux.HandleFunc("POST /auth/logout", authHandler.Logout)
		mux.Handle("POST /admin/users/{id}/suspend", adminAccess(authHandler.Suspend))
		mux.Handle("POST /admin/users/{id}/unsuspend", adminAccess(authHandler.Unsuspend))
		mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	}

	audiences := make([]string, 0, 2)
	if cfg.Services[ServiceNegotiation] {
		audiences = append(audiences, cfg.NegotiationServiceID)
	}
	if cfg.Services[ServiceCatalog] {
		audiences = append(audiences, cfg.CatalogServiceID)
	}
	if len(audiences) > 0 {
		exchange, err := auth.NewExchange(accessVerifier, auth.ExchangeConfig{
			TrustedIssuer: cfg.Issuer,
			ServiceKey:    cfg.ServiceSecret,
			ServiceTTL:    cfg.ServiceTTL,
			Audiences:     audiences,
		}, deps.metrics)
		if err != nil {
			return fmt.Errorf("token exchange: %w", err)
		}
		mux.HandleFunc("POST /token/exchange", auth.NewExchangeHandler(exchange, deps.metrics).Exchange)
	}

	if cfg.Services[ServiceCatalog] {
		if err := registerCatalog(mux, deps); err != nil {
			return err
		}
	}
	if cfg.Services[ServiceNegotiation] {
		if err := registerNegotiation(mux, deps); err != nil {
			return err
		}
	}
	return nil
}

func serviceGuards(deps routeDeps, audience string) (user, admin func(http.HandlerFunc) http.Handler, err error) {
	verifier, err := auth.NewVerifier(auth.TokenPolicy{
		Issuer:   deps.cfg.Issuer,
		KeyClass: auth.KeyClassService,
		Audience: audience,
	}, deps.cfg.ServiceSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("service verifier for %s: %w", audience, err)
	}

	user = func(h http.HandlerFunc) http.Handler {
		return auth.RequireToken(verifier, deps.metrics, h)
	}
	admin = func(h http.HandlerFunc) http.Handler {
		return auth.RequireToken(verifier, deps.metrics, auth.RequireRole(auth.RoleAdmin, h))
	}
	return user, admin, nil
}

func registerCatalog(mux *http.ServeMux, deps routeDeps) error {
	requireService, requireAdmin, err := serviceGuards(deps, deps.cfg.CatalogServiceID)
	if err != nil {
		return err
	}
	items := item.NewHandler(deps.stores.items)

	mux.HandleFunc("GET /items", items.ListItems)
	mux.Handle("GET /items/mine", requireService(items.ListMine))
	mux.HandleFunc("GET /items/{id}", items.GetItem)
	mux.Handle("POST /items", requireService(items.CreateItem))
	mux.Handle("PUT /items/{id}", requireService(items.UpdateItem))
	mux.Handle("DELETE /items/{id}", requireService(items.DeleteItem))
	mux.Handle("POST /admin/items/{id}/approve", requireAdmin(items.Approve))
	mux.Handle("POST /admin/items/{id}/reject", requireAdmin(items.Reject))
	return nil
}

func registerNegotiation(mux *http.ServeMux, deps routeDeps) error {
	requireService, requireAdmin, err := serviceGuards(deps, deps.cfg.NegotiationServiceID)
	if err != nil {
		return err
	}

	ledger := message.NewLedger(deps.stores.trades, deps.stores.messages)
	service := trade.NewService(deps.stores.trades, deps.stores.items,
		trade.WithUnreadCounter(ledger),
		trade.WithTransitionRecorder(deps.metrics),
		trade.WithLogger(deps.logger),
	)
	trades := trade.NewHandler(service)
	messages := message.NewHandler(ledger)

	mux.Handle("POST /trades", requireService(trades.Propose))
	mux.Handle("GET /trades/user/{userId}", requireService(trades.ListForUser))
	mux.Handle("GET /trades/{tradeId}", requireService(trades.Get))
	mux.Handle("PUT /trades/{tradeId}/offer", requireService(trades.UpdateOffer))
	mux.Handle("PATCH /trades/{tradeId}/status", requireService(trades.UpdateStatus))
	mux.Handle("POST /messages", requireService(messages.Append))
	mux.Handle("GET /messages/{tradeId}", requireService(messages.List))
	mux.Handle("PATCH /messages/{tradeId}/read", requireService(messages.MarkRead))
	mux.Handle("GET /admin/trades", requireAdmin(trades.ListAll))
	mux.Handle("GET /admin/trades/{tradeId}", requireAdmin(trades.Get))
	return nil
}
