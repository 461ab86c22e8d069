package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/metrics"
	myMiddleware "chat-relay/internal/middleware"
	"chat-relay/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return exitConfig, fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(ctx, cfg.DSN)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer database.Close()
	logger.Info("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return exitRuntime, err
	}
	logger.Info("database schema initialized")

	// 3. Delivery layer
	collector := metrics.NewCollector("chat")
	hub := chat.NewHub(logger.Named("hub"), collector, cfg.SendBuffer)

	var publisher chat.Publisher = hub
	var relay *chat.RedisRelay
	if cfg.EnableRedis {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return exitRuntime, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		relay = chat.NewRedisRelay(redisClient, cfg.RedisChannel, hub, logger.Named("relay"))
		publisher = relay
	}

	// 4. Features
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)

	userService := user.NewService(user.NewRepository(database.Conn), issuer)
	userHandler := user.NewHandler(userService, logger.Named("user"))

	chatRepo := chat.NewRepository(database.Conn)
	authz := chat.NewAuthorizer(chatRepo)
	coordinator := chat.NewCoordinator(authz, chatRepo, chatRepo, publisher, logger.Named("coordinator"), collector)
	chatHandler := chat.NewHandler(hub, authz, coordinator, chatRepo, logger.Named("chat"), cfg.HistoryLimit)

	authMiddleware := myMiddleware.NewAuthMiddleware(verifier)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle("/metrics", collector.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/verify-token", chatHandler.VerifyToken)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/api/private_chats", chatHandler.ListPrivateChats)
		r.Post("/api/private_chats", chatHandler.StartPrivateChat)
		r.Get("/api/private_chats/{chatID}/messages", chatHandler.PrivateHistory)
		r.Post("/api/private_chats/{chatID}/messages", chatHandler.SendPrivateMessage)

		r.Get("/api/groups", chatHandler.ListGroups)
		r.Post("/api/groups", chatHandler.CreateGroup)
		r.Get("/api/groups/{groupID}/messages", chatHandler.GroupHistory)
		r.Post("/api/groups/{groupID}/messages", chatHandler.SendGroupMessage)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("server stopped")
	return exitOK, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
