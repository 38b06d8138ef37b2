package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/smartapi/authcore/internal/cache"
	"github.com/smartapi/authcore/internal/config"
	"github.com/smartapi/authcore/internal/handlers"
	"github.com/smartapi/authcore/internal/logging"
	authmw "github.com/smartapi/authcore/internal/middleware/auth"
	"github.com/smartapi/authcore/internal/models"
	"github.com/smartapi/authcore/internal/mykafka"
	"github.com/smartapi/authcore/internal/service"
	httpserver "github.com/smartapi/authcore/internal/transport/http"
	"github.com/smartapi/authcore/pkg/db"
	loggingmw "github.com/smartapi/authcore/pkg/middleware/logging"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	ctx := context.Background()
	database, err := db.Open(ctx, configuration.DSN())
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	if err := database.AutoMigrate(&models.User{}, &models.RefreshToken{}); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	var profileCache *cache.Cache
	if configuration.REDIS_URL != "" {
		profileCache, err = cache.New(ctx, configuration.REDIS_URL)
		if err != nil {
			// The cache is a side-read path; running without it is fine.
			logger.Warn("redis unavailable, profile cache disabled", "error", err)
			profileCache = nil
		}
	}

	var producer *mykafka.Producer
	if configuration.KAFKA_ADDRESS != "" {
		producer = mykafka.NewProducer(strings.Split(configuration.KAFKA_ADDRESS, ","))
	}

	tokens := &service.TokenService{
		DB: database,
		Settings: service.JWTSettings{
			Secret:     []byte(configuration.JWT_SECRET),
			Issuer:     configuration.JWT_ISSUER,
			Audience:   configuration.JWT_AUDIENCE,
			AccessTTL:  configuration.ACCESS_TOKEN_TTL,
			RefreshTTL: configuration.REFRESH_TOKEN_TTL,
		},
	}
	auth := &service.AuthService{DB: database, Tokens: tokens}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(loggingmw.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{Auth: auth, Producer: producer},
		UserHandler: &handlers.UserHandler{Auth: auth, Cache: profileCache},
		AuthMW:      &authmw.Middleware{JWTSecret: tokens.Settings.Secret},
	})

	srv := &http.Server{
		Addr:         configuration.HTTP_ADDRESS,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	}

	if err := profileCache.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := producer.Close(); err != nil {
		logger.Error("kafka close error", "error", err)
	}

	logger.Info("shutdown complete")
}
