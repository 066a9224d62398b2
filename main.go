package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tutorchat/internal/api"
	"tutorchat/internal/auth"
	"tutorchat/internal/config"
	"tutorchat/internal/logger"
	"tutorchat/internal/metrics"
	"tutorchat/internal/redis"
	"tutorchat/internal/service/ai"
	"tutorchat/internal/service/chats"
	"tutorchat/internal/service/relay"
	"tutorchat/internal/storage"
	"tutorchat/internal/tracer"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TUTORCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing := tracer.Init(ctx, cfg.Telemetry, lg)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			lg.Warn("flush traces", zap.Error(err))
		}
	}()

	db, err := storage.Open(cfg.Database)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
		lg.Fatal("migrate database", zap.Error(err))
	}
	lg.Info("database ready", zap.String("driver", cfg.Database.Driver))

	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		lg.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	store := chats.NewService(db, chats.WithRedis(rdb), chats.WithLogger(lg))
	store.StartOrphanSweeper(ctx, chats.DefaultSweepPeriod)
	if cfg.Seed.TutorsOnStart {
		n, err := store.SeedTutors(ctx)
		if err != nil {
			lg.Fatal("seed tutors", zap.Error(err))
		}
		if n > 0 {
			lg.Info("seeded tutors", zap.Int("count", n))
		}
	}

	chatModel, err := ai.NewChatModel(ctx, cfg.Provider)
	if err != nil {
		lg.Fatal("init completion provider", zap.Error(err))
	}
	relayCfg := relay.Config{
		StreamTimeout:        cfg.Provider.StreamTimeoutDuration(),
		MaxConcurrentStreams: cfg.Provider.MaxStreams,
	}
	if cfg.Provider.TitleModel != "" {
		relayCfg.TitleOptions = []model.Option{model.WithModel(cfg.Provider.TitleModel)}
	}
	responder := relay.NewService(store, chatModel, lg, relayCfg)
	lg.Info("completion provider ready",
		zap.String("provider", cfg.Provider.Name), zap.String("model", cfg.Provider.Model))

	var (
		authService *auth.Service
		oauth       *auth.OAuth
	)
	if cfg.Auth.Enabled {
		tokens := auth.NewMemoryStore()
		if rdb.Enabled() {
			tokens = auth.NewRedisStore(rdb)
		}
		authService = auth.NewService(tokens, cfg.Auth.TokenTTLDuration(), auth.WithSecureCookies(cfg.Auth.CookieSecure))
		oauth, err = auth.NewOAuth(cfg.Auth)
		if err != nil {
			lg.Fatal("init oauth", zap.Error(err))
		}
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(lg))
	if cfg.Telemetry.MetricsEnabled {
		router.Use(metrics.Middleware())
		router.GET("/metrics", metrics.Handler())
	}
	api.NewHandler(store, responder, authService, oauth, lg).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}
	go func() {
		lg.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}
	lg.Info("server exited")
}
