package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/archive"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/cache"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/config"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/fanout"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/handler"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/repository"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/service"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/database"
	pkglog "github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/middleware"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "support-session",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(cfg.DatabaseConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate
	if err := database.AutoMigrate(db, &domain.RoomModel{}, &domain.MessageModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	if cfg.Database.Driver == "postgres" {
		// Store-level backstop for the one-active-room-per-user rule.
		// The repository enforces it transactionally on every driver;
		// postgres additionally gets a partial unique index.
		err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_room_per_user
			ON chat_rooms (user_id) WHERE status <> 'closed'`).Error
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create active-room index")
		}
	}
	logger.Info().Msg("database migration completed")

	// Initialize repositories
	roomRepo := repository.NewGormRoomRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)

	// Initialize Redis room cache
	var roomCache cache.RoomCache
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisRoomCache(cfg.Cache.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis cache")
		}
		defer rc.Close()
		roomCache = rc
		logger.Info().Msg("redis room cache connected")
	}

	// Initialize event bus
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("event bus connected")

	// Initialize Kafka archiver
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(cfg.Archive)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start archiver")
		}
		defer archiver.Close()
		logger.Info().Str("topic", cfg.Archive.Topic).Msg("archiver started")
	}

	// Initialize session coordinator and fan-out
	sessions := service.NewSessionService(roomRepo, messageRepo, bus, roomCache, cfg.Cache.TTL(), archiver)
	fo := fanout.New(bus, cfg.Stream.Backlog)
	defer fo.Close()

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	// Initialize handlers
	httpHandler := handler.NewHandler(sessions, authMiddleware)
	wsHandler := handler.NewWSHandler(sessions, fo, authMiddleware, cfg.WebSocket)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Register routes
	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Start server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", addr).Str("db_driver", cfg.Database.Driver).Msg("support-session starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}
