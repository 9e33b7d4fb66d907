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

	"wbuoj/internal/common/cache"
	"wbuoj/internal/common/db"
	commonmw "wbuoj/internal/common/http/middleware"
	"wbuoj/internal/common/mq"
	"wbuoj/internal/common/storage"
	"wbuoj/internal/judge/controller"
	"wbuoj/internal/judge/dispatcher"
	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/ingest"
	"wbuoj/internal/judge/queue"
	"wbuoj/internal/judge/repository"
	"wbuoj/internal/judge/service"
	"wbuoj/internal/judge/session"
	"wbuoj/internal/judge/signer"
	"wbuoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_orchestrator.yaml"

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

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var producer mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaProducer.Close()
		}()
		producer = kafkaProducer
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err = storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	problemRepo := repository.NewProblemRepository(mysqlDB)
	userStatsRepo := repository.NewUserStatsRepository(mysqlDB)

	taskQueue := queue.NewTaskQueue(redisCache, appCfg.Judge.TaskTTL)
	workerHub := hub.NewHub(taskQueue, appCfg.Judge.PingInterval)

	ingestor, err := ingest.NewIngestor(ingest.Config{
		DB:          mysqlDB,
		Submissions: submissionRepo,
		Problems:    problemRepo,
		UserStats:   userStatsRepo,
		Queue:       taskQueue,
		Slots:       workerHub,
		Producer:    producer,
		EventTopic:  appCfg.Judge.EventTopic,
	})
	if err != nil {
		logger.Error(context.Background(), "init ingestor failed", zap.Error(err))
		return
	}

	linkSigner := signer.NewSigner(appCfg.Judge.LinkSecret)
	sessions := session.NewStore(appCfg.Judge.SessionTTL)

	judgeService, err := service.NewJudgeService(service.Config{
		Submissions:      submissionRepo,
		Problems:         problemRepo,
		Queue:            taskQueue,
		Workers:          workerHub,
		Waiter:           ingestor,
		Cache:            redisCache,
		Storage:          objStorage,
		Signer:           linkSigner,
		Credentials:      appCfg.Judge.Credentials,
		ArtifactBucket:   appCfg.Judge.ArtifactBucket,
		LinkTTL:          appCfg.Judge.LinkTTL,
		ManifestCacheTTL: appCfg.Judge.ManifestCacheTTL,
		MaxArtifactBytes: appCfg.Judge.MaxArtifactBytes,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	rootCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	judgeDispatcher := dispatcher.NewDispatcher(taskQueue, workerHub, ingestor, appCfg.Judge.Domain, appCfg.Judge.DispatchInterval)
	go judgeDispatcher.Run(rootCtx)
	go sessions.StartSweeper(rootCtx, appCfg.Judge.SessionSweepInterval)

	httpServer := buildHTTPServer(appCfg, judgeService, ingestor, workerHub, sessions, linkSigner)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge orchestrator started", zap.String("addr", appCfg.Server.Addr))
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

	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(
	appCfg *AppConfig,
	judgeService *service.JudgeService,
	ingestor *ingest.Ingestor,
	workerHub *hub.Hub,
	sessions *session.Store,
	linkSigner *signer.Signer,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	judgeController := controller.NewJudgeController(judgeService, sessions, linkSigner, appCfg.Judge.PublicBaseURL)
	wsController := controller.NewWSController(workerHub, ingestor, sessions, appCfg.Judge.WorkerToken)
	adminController := controller.NewAdminController(judgeService)

	// Compatibility surface spoken by worker daemons.
	router.POST("/login", judgeController.Login)
	router.POST("/logout", judgeController.Logout)
	router.GET("/storage", judgeController.Storage)

	workerAuth := controller.SessionAuth(sessions, appCfg.Judge.WorkerToken)
	judgeGroup := router.Group("/judge", workerAuth)
	judgeGroup.POST("/files", judgeController.Files)
	judgeGroup.POST("/upload", judgeController.Upload)
	judgeGroup.GET("/ws", wsController.Connect)

	internal := router.Group("/internal/judge", controller.InternalAuth(appCfg.Judge.InternalToken))
	internal.POST("/enqueue", judgeController.Enqueue)

	admin := router.Group("/admin/judge", controller.AdminAuth(appCfg.Judge.JWTSecret, appCfg.Judge.JWTIssuer))
	admin.GET("/status", adminController.Status)
	admin.POST("/problems/:id/files/clear", adminController.ClearFiles)
	admin.POST("/submissions/:id/rejudge", adminController.Rejudge)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
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
