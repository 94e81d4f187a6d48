package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/config"
	"github.com/servicehub/apiserver/internal/db"
	"github.com/servicehub/apiserver/internal/events"
	"github.com/servicehub/apiserver/internal/handlers"
	"github.com/servicehub/apiserver/internal/services"
	"github.com/servicehub/apiserver/internal/storage"
	"github.com/servicehub/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	bus        *events.Bus
}

// New constructs a Server with its full dependency graph wired.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	images, err := storage.NewImageStoreFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if images != nil {
		if err := images.EnsureBucket(ctx); err != nil {
			_ = dbConn.Close()
			return nil, err
		}
	}

	bus, err := events.NewBusFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if bus == nil {
		log.Info().Msg("event broker not configured, notifications disabled")
	}

	userRepo := store.NewUserRepository(dbConn)
	serviceRepo := store.NewServiceRepository(dbConn)
	reviewRepo := store.NewReviewRepository(dbConn)

	userService := services.NewUserService(userRepo)
	listingService := services.NewListingService(serviceRepo, reviewRepo, images, bus)
	reviewService := services.NewReviewService(reviewRepo, serviceRepo, bus)
	rankingService := services.NewRankingService(reviewRepo, serviceRepo)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, authMiddleware)
	})
	router.Route("/services", func(r chi.Router) {
		handlers.ServiceRouter(r, listingService, rankingService, reviewService, authMiddleware)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, listingService, userService, authMiddleware)
	})
	router.Get("/uploads/{key}", handlers.ServeUpload(images))

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		bus:        bus,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting api server")
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
