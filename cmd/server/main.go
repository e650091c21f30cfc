package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/config"
	"github.com/Perfect-Match-Org/PMTI/internal/database"
	"github.com/Perfect-Match-Org/PMTI/internal/handlers"
	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/middleware"
	"github.com/Perfect-Match-Org/PMTI/internal/realtime"
	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// @title           PMTI API
// @version         1.0
// @description     Two-person relationship quiz: survey state, submissions and realtime sync
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter "Bearer {token}"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	cat := catalog.Default()
	hub := realtime.NewHub()

	var bus realtime.Bus = realtime.NewLocalBus(hub)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("parse REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		redisBus := realtime.NewRedisBus(rdb, hub)
		g.Go(func() error { return redisBus.Run(ctx) })
		bus = redisBus
	} else {
		log.Info().Msg("REDIS_URL not set, realtime fan-out is in-process only")
	}

	authService := services.NewAuthService(services.AuthConfig{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		TTL:            cfg.TokenTTL,
		AllowedDomains: cfg.AllowedEmailDomains,
		AllowedEmails:  cfg.AllowedEmails,
	})
	surveyStore := services.NewSurveyStore(db, cat)
	surveyService := services.NewSurveyService(surveyStore, cat, realtime.NewNotifier(bus), authService)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger.Component("http")))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Internal-API-Key"},
		AllowCredentials: true,
	}))

	handlers.Routes{
		Survey:         handlers.NewSurveyHandler(surveyService),
		Realtime:       handlers.NewRealtimeHandler(surveyService, hub, bus),
		Auth:           authService,
		InternalAPIKey: cfg.InternalAPIKey,
	}.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Int("questions", cat.TotalQuestions()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}
