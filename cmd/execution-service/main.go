package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	commonmw "arenaoj/internal/common/http/middleware"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/execution/controller"
	"arenaoj/internal/execution/engine"
	"arenaoj/internal/execution/repository"
	"arenaoj/internal/execution/service"
	"arenaoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/execution_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewManager(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	engineClient, err := engine.NewClient(appCfg.Engine)
	if err != nil {
		logger.Error(context.Background(), "init engine client failed", zap.Error(err))
		return
	}
	poller, err := engine.NewPoller(engineClient, appCfg.Poller)
	if err != nil {
		logger.Error(context.Background(), "init poller failed", zap.Error(err))
		return
	}

	archiver, err := service.NewResultArchiver(objStorage, appCfg.Execution.SourceBucket)
	if err != nil {
		logger.Error(context.Background(), "init result archiver failed", zap.Error(err))
		return
	}

	database, err := db.CurrentDatabase(dbProvider)
	if err != nil {
		logger.Error(context.Background(), "resolve database failed", zap.Error(err))
		return
	}
	submissionRepo := repository.NewSubmissionRepositoryWithTTL(
		database,
		redisCache,
		appCfg.Execution.SubmissionCacheTTL,
		appCfg.Execution.SubmissionEmptyTTL,
	)

	executionService, err := service.NewExecutionService(service.Config{
		SubmissionRepo:  submissionRepo,
		Engine:          engineClient,
		Poller:          poller,
		Storage:         objStorage,
		Cache:           redisCache,
		Events:          service.NewMQAcceptedEventPublisher(mqClient, appCfg.Execution.AcceptedTopic, appCfg.Execution.SubmissionLinkFmt),
		Archiver:        archiver,
		SourceBucket:    appCfg.Execution.SourceBucket,
		SourceKeyPrefix: appCfg.Execution.SourceKeyPrefix,
		MaxCodeBytes:    appCfg.Execution.MaxCodeBytes,
		IdempotencyTTL:  appCfg.Execution.IdempotencyTTL,
		RateLimit:       appCfg.Execution.RateLimit,
		Timeouts:        appCfg.Execution.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init execution service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg, executionService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "execution http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, executionService *service.ExecutionService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	executionController := controller.NewExecutionController(executionService)
	executionController.RegisterRoutes(api, commonmw.JWTAuthMiddleware(cfg.JWT))

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
