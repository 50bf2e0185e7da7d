package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/config"
	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/grpcclient"
	"github.com/example/face-attendance/internal/handlers"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/reconcile"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.Database, gormLogLevel(cfg.LogLevel))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	repo := repository.NewRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)
	defer redisClient.Close()

	backend, closer, err := initExtractor(ctx, cfg.Extractor, logger)
	if err != nil {
		logger.Fatal("failed to initialise descriptor extractor", zap.Error(err), zap.String("kind", cfg.Extractor.Kind))
	}
	defer closer.Close()
	extractor := imageprocessor.NewPipeline(backend, cfg.Extractor.MaxImageSide)

	store, err := encodingstore.Open(cfg.Encodings)
	if err != nil {
		logger.Fatal("failed to open encoding store", zap.Error(err), zap.String("backend", cfg.Encodings.Backend))
	}

	cache := usecase.NewRedisCache(redisClient)
	matcher := face.NewMatcher(cfg.Matching.Tolerance)
	deps := handlers.Dependencies{
		Enrollment: usecase.NewEnrollmentService(repo, store, extractor, usecase.NewRegistrationLock(cache, logger), logger),
		Verification: usecase.NewVerificationService(repo, store, extractor, matcher, logger,
			usecase.WithCandidateCache(cache),
			usecase.WithIdentifyWorkers(cfg.Matching.IdentifyWorkers),
		),
		Groups: usecase.NewGroupService(repo, logger),
	}

	sweeper := reconcile.NewSweeper(store, repo, cfg.Reconcile.GracePeriod, logger)
	scheduler, err := sweeper.Schedule(context.Background(), cfg.Reconcile.Cron)
	if err != nil {
		logger.Fatal("failed to schedule reconciliation", zap.Error(err))
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(cfg, deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("attendance API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("extractor", cfg.Extractor.Kind),
		zap.String("encodings", cfg.Encodings.Backend),
		zap.Float64("tolerance", matcher.Tolerance()),
	)
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, deps handlers.Dependencies, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.AccessLog(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.HTTP.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", handlers.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", handlers.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, deps, authMiddleware, cfg.HTTP.MaxUploadBytes)
	return r
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", addr))
	}
	return client
}

func initExtractor(ctx context.Context, cfg config.ExtractorConfig, logger *zap.Logger) (imageprocessor.Extractor, io.Closer, error) {
	switch cfg.Kind {
	case "grpc":
		extractor, conn, err := grpcclient.DialExtractor(ctx, cfg.Addr, logger)
		if err != nil {
			return nil, nil, err
		}
		return extractor, conn, nil
	case "dlib":
		extractor, err := imageprocessor.NewDlibExtractor(cfg.ModelsDir)
		if err != nil {
			return nil, nil, err
		}
		return extractor, extractor, nil
	default:
		return nil, nil, fmt.Errorf("unsupported extractor kind %q", cfg.Kind)
	}
}

func gormLogLevel(level string) gormlogger.LogLevel {
	if level == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
