package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"enterprise-crm-backend/pkg/billing"
	"enterprise-crm-backend/pkg/claims"
	"enterprise-crm-backend/pkg/config"
	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/handlers"
	"enterprise-crm-backend/pkg/logger"
	custommw "enterprise-crm-backend/pkg/middleware"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/notify"
	"enterprise-crm-backend/pkg/team"
	"enterprise-crm-backend/pkg/utils"
)

func main() {
	log := logger.New("server")

	cfg := config.GetCached()
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	store, err := database.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer store.Close()

	router := buildRouter(cfg, store)

	sweeper := startHousekeeping(store, logger.New("housekeeping"))
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("server listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
}

func buildRouter(cfg *config.Config, store database.Store) *chi.Mux {
	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	notifier := notify.NewLogNotifier(logger.New("notify"))

	teamService := team.NewService(store, notifier, logger.New("team"), cfg.BaseURL)
	claimsService := claims.NewService(store, notifier, logger.New("claims"), cfg.BaseURL)

	provider := billing.NewHTTPProvider(cfg.AIProviderURL, cfg.AIProviderKey, cfg.AIRequestTimeout)
	ledger := billing.NewLedger(store, provider, logger.New("billing"), cfg.AIDefaultModel)

	gate := custommw.NewAccessGate(store, logger.New("access"))

	authHandler := handlers.NewAuthHandler(store, jwtService, logger.New("auth"))
	enterprisesHandler := handlers.NewEnterprisesHandler(store, logger.New("enterprises"))
	teamHandler := handlers.NewTeamHandler(teamService, logger.New("team"))
	claimsHandler := handlers.NewClaimsHandler(claimsService, logger.New("claims"))
	assistantHandler := handlers.NewAssistantHandler(ledger, logger.New("assistant"))
	webhookHandler := handlers.NewWebhookHandler(cfg, store, logger.New("webhook"))
	healthHandler := handlers.NewHealthHandler(store)

	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(custommw.Logger(logger.New("http")))
	router.Use(custommw.Recoverer(logger.New("http")))
	router.Use(custommw.CORS(cfg))
	router.Use(chimiddleware.Compress(5))
	if cfg.IsDevelopment() {
		router.Use(chimiddleware.Heartbeat("/ping"))
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)

		// Processor-signed; no user auth.
		r.Post("/webhooks/billing", webhookHandler.HandleBillingWebhook)

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(custommw.AuthMiddleware(jwtService, store))

			r.Get("/auth/me", authHandler.Me)

			r.Post("/enterprises", enterprisesHandler.CreateEnterprise)
			r.Get("/enterprises/{enterpriseID}", enterprisesHandler.GetEnterprise)

			// Token-bearing accept endpoints and the direct claim carry their
			// own checks instead of the role gate: the caller is typically
			// not yet a member.
			r.Post("/team/invitations/accept/{token}", teamHandler.AcceptInvitation)
			r.Post("/claims/accept/{token}", claimsHandler.AcceptClaimToken)
			r.Post("/enterprises/{enterpriseID}/claim", claimsHandler.ClaimDirect)
			r.Post("/enterprises/{enterpriseID}/claims/invite", claimsHandler.CreateClaimInvite)

			r.Route("/enterprises/{enterpriseID}/team", func(r chi.Router) {
				r.With(gate.RequireRole(models.RoleViewer)).
					Get("/members", teamHandler.ListMembers)

				r.Group(func(r chi.Router) {
					r.Use(gate.RequireRole(models.RoleAdmin))
					r.Post("/invitations", teamHandler.InviteMember)
					r.Get("/invitations", teamHandler.ListInvitations)
					r.Delete("/invitations/{invitationID}", teamHandler.CancelInvitation)
					r.Put("/members/{membershipID}/role", teamHandler.ChangeMemberRole)
					r.Delete("/members/{membershipID}", teamHandler.RemoveMember)
				})
			})

			r.Post("/assistant/chat", assistantHandler.Chat)
			r.Post("/assistant/chat/stream", assistantHandler.ChatStream)
			r.Get("/assistant/usage", assistantHandler.ListUsage)
		})
	})

	return router
}

// startHousekeeping schedules the token-expiry sweep. Expiry is also applied
// lazily on read, so a missed run only delays cleanup.
func startHousekeeping(store database.Store, log *logger.Logger) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		now := time.Now()
		if n, err := store.ExpirePendingInvitations(ctx, now); err != nil {
			log.Errorw("invitation expiry sweep failed", "error", err)
		} else if n > 0 {
			log.Infow("expired invitations", "count", n)
		}
		if n, err := store.ExpirePendingClaims(ctx, now); err != nil {
			log.Errorw("claim expiry sweep failed", "error", err)
		} else if n > 0 {
			log.Infow("expired claims", "count", n)
		}
	})
	if err != nil {
		log.Errorw("failed to schedule housekeeping", "error", err)
	}
	c.Start()
	return c
}
