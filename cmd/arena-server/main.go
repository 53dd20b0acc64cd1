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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	compcontroller "codearena/internal/competition/controller"
	comprepo "codearena/internal/competition/repository"
	compservice "codearena/internal/competition/service"
	"codearena/internal/feed"
	"codearena/internal/judge/challenge"
	judgecontroller "codearena/internal/judge/controller"
	"codearena/internal/judge/lang"
	judgerepo "codearena/internal/judge/repository"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/observer"
	"codearena/internal/judge/sandbox/runner"
	judgeservice "codearena/internal/judge/service"
	"codearena/pkg/utils/logger"
)

const defaultConfigPath = "configs/arena.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "arena server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCacheWithConfig(&appCfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = rc.Close()
		}()
		redisCache = rc
	}

	submissions, err := buildSubmissionStore(ctx, appCfg.MySQL)
	if err != nil {
		return err
	}

	var queue mq.MessageQueue = mq.NewMemoryQueue()
	if len(appCfg.Kafka.Brokers) > 0 {
		kq, err := mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		queue = kq
	}
	defer func() {
		_ = queue.Close()
	}()

	var archive judgeservice.ArchiveWriter
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO.MinIOConfig)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		ensureCtx, cancel := context.WithTimeout(ctx, appCfg.MinIO.Timeout)
		err = objStorage.EnsureBucket(ensureCtx, appCfg.MinIO.Bucket)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure archive bucket failed: %w", err)
		}
		archive = judgerepo.NewArchiveStore(objStorage, appCfg.MinIO.Bucket)
	}

	challenges, files, closeChallenges, err := buildChallengeSource(appCfg.Challenges, redisCache)
	if err != nil {
		return err
	}
	defer closeChallenges()

	langs := lang.NewRegistry(appCfg.Languages)
	eng, err := engine.NewEngine(appCfg.Sandbox.Config)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	if err := os.MkdirAll(appCfg.Sandbox.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("create work root failed: %w", err)
	}
	jobRunner, err := runner.NewRunner(eng, langs, runner.Config{
		WorkRoot:           appCfg.Sandbox.WorkRoot,
		ContainerWorkDir:   appCfg.Sandbox.ContainerWorkDir,
		MaxTimeLimitMs:     appCfg.Sandbox.MaxTimeLimitMs,
		RunLimits:          appCfg.Sandbox.RunLimits,
		CompileLimits:      appCfg.Sandbox.CompileLimits,
		SystemErrorRetries: appCfg.Sandbox.SystemErrorRetries,
	}, observer.LogRecorder{})
	if err != nil {
		return fmt.Errorf("init runner failed: %w", err)
	}

	var competitions comprepo.Store = comprepo.NewMemoryStore()
	var statusRepo *judgerepo.StatusRepository
	var idempotency *judgerepo.IdempotencyGuard
	if redisCache != nil {
		competitions = comprepo.NewRedisStore(redisCache.Client())
		statusRepo = judgerepo.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL)
		idempotency = judgerepo.NewIdempotencyGuard(redisCache, appCfg.Judge.IdempotencyTTL)
	}

	hub := feed.NewHub(feed.HubConfig{
		SendBuffer:     appCfg.Competition.FeedSendBuffer,
		AllowedOrigins: appCfg.Competition.FeedAllowedOrigins,
	})
	defer hub.Close()
	relay := feed.NewRelay(queue, appCfg.Kafka.FeedTopic, appCfg.Kafka.FeedGroup+"-"+replicaID(), hub)
	if err := relay.Register(ctx); err != nil {
		return fmt.Errorf("register feed relay failed: %w", err)
	}

	var judgeSvc *judgeservice.Service
	competitionSvc, err := compservice.NewService(compservice.Config{
		Store:      competitions,
		Feed:       feed.NewMQPublisher(queue, appCfg.Kafka.FeedTopic),
		Challenges: challenges,
		Judge: compservice.JudgeCancellerFunc(func(ctx context.Context, id string) int {
			return judgeSvc.CancelCompetition(ctx, id)
		}),
		DefaultMaxParticipants:  appCfg.Competition.DefaultMaxParticipants,
		DefaultTimeLimitMinutes: appCfg.Competition.DefaultTimeLimitMinutes,
		UpdateRetries:           appCfg.Competition.UpdateRetries,
		EventTimeout:            appCfg.Competition.EventTimeout,
	})
	if err != nil {
		return fmt.Errorf("init competition service failed: %w", err)
	}

	judgeSvc, err = judgeservice.NewService(judgeservice.Config{
		Store:             submissions,
		Challenges:        challenges,
		Languages:         langs,
		Executor:          judgeservice.RunnerExecutor{Runner: jobRunner},
		StatusRepo:        statusRepo,
		Idempotency:       idempotency,
		Archive:           archive,
		Publisher:         judgerepo.NewMQStatusEventPublisher(queue, appCfg.Kafka.StatusTopic),
		Competition:       competitionSvc,
		FloatTolerance:    appCfg.Judge.FloatTolerance,
		MaxActualBytes:    appCfg.Judge.MaxActualBytes,
		MaxSourceBytes:    appCfg.Judge.MaxSourceBytes,
		ChallengeTimeout:  appCfg.Challenges.Timeout,
		StatusTimeout:     appCfg.Judge.StatusTimeout,
		SideEffectTimeout: appCfg.Judge.SideEffectTimeout,
		StaleRunningAfter: appCfg.Judge.StaleRunningAfter,
		WorkerPoolSize:    appCfg.Worker.PoolSize,
		QueueSize:         appCfg.Worker.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	judgeSvc.Start()
	defer judgeSvc.Close()

	if err := queue.Start(); err != nil {
		return fmt.Errorf("start queue consumers failed: %w", err)
	}
	defer func() {
		_ = queue.Stop()
	}()

	auth := commonmw.NewAuthenticator(appCfg.Auth.Secret, appCfg.Auth.Issuer)
	var limiter *commonmw.RateLimiter
	if redisCache != nil {
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.RedisTimeout)
	}
	httpServer := buildHTTPServer(appCfg, auth, limiter, judgeSvc, competitionSvc, challenges, hub)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "arena http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	if appCfg.Server.GRPCAddr != "" && files != nil {
		grpcServer := grpc.NewServer()
		challenge.RegisterChallengeServer(grpcServer, challenge.SourceServer{Source: files})
		grpcListener, err := net.Listen("tcp", appCfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("init grpc listener failed: %w", err)
		}
		go func() {
			logger.Info(ctx, "challenge grpc server started", zap.String("addr", appCfg.Server.GRPCAddr))
			errCh <- grpcServer.Serve(grpcListener)
		}()
		defer grpcServer.GracefulStop()
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go tickLoop(shutdownCtx, competitionSvc, appCfg.Competition.TickInterval)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(closeCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildSubmissionStore(ctx context.Context, cfg MySQLConfig) (judgerepo.SubmissionStore, error) {
	if !cfg.enabled() {
		logger.Warn(ctx, "mysql not configured, submissions are kept in memory")
		return judgerepo.NewMemoryStore(), nil
	}
	conn, err := db.NewMySQLConn(ctx, &cfg.MySQLConfig)
	if err != nil {
		return nil, fmt.Errorf("init mysql failed: %w", err)
	}
	store := judgerepo.NewMySQLStore(conn)
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("migrate submissions failed: %w", err)
		}
	}
	return store, nil
}

// buildChallengeSource returns the source judges read from and, for the file
// source, the loaded set so it can be served over gRPC.
func buildChallengeSource(cfg ChallengeConfig, redisCache *cache.RedisCache) (challenge.Source, *challenge.FileSource, func(), error) {
	noop := func() {}
	switch cfg.Source {
	case "grpc":
		conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("init challenge grpc client failed: %w", err)
		}
		var src challenge.Source = challenge.NewGRPCSource(conn, cfg.Timeout)
		if redisCache != nil {
			src = challenge.NewCachedSource(src, redisCache, cfg.CacheTTL)
		}
		return src, nil, func() { _ = conn.Close() }, nil
	default:
		files, err := challenge.NewFileSource(cfg.Dir)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("load challenges failed: %w", err)
		}
		logger.Info(context.Background(), "challenges loaded", zap.Int("count", len(files.IDs())), zap.String("dir", cfg.Dir))
		return files, files, noop, nil
	}
}

func buildHTTPServer(
	appCfg *AppConfig,
	auth *commonmw.Authenticator,
	limiter *commonmw.RateLimiter,
	judgeSvc *judgeservice.Service,
	competitionSvc *compservice.Service,
	challenges challenge.Source,
	hub *feed.Hub,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(commonmw.CORSMiddleware(appCfg.Server.CORS))

	optional := commonmw.AuthMiddleware(auth, false)
	required := commonmw.AuthMiddleware(auth, true)
	submitLimit := commonmw.RateLimitMiddleware(limiter, "submissions", appCfg.RateLimit.Submissions)
	compLimit := commonmw.RateLimitMiddleware(limiter, "competitions", appCfg.RateLimit.Competitions)

	api := router.Group("/api/v1")
	jc := judgecontroller.NewJudgeController(judgeSvc)
	api.POST("/submissions", required, submitLimit, jc.Create)
	api.GET("/submissions/:id", optional, jc.GetStatus)
	api.POST("/submissions/:id/cancel", required, jc.Cancel)
	api.POST("/templates", judgecontroller.NewTemplateController(challenges).Generate)

	cc := compcontroller.NewCompetitionController(competitionSvc)
	comps := api.Group("/competitions")
	comps.POST("", required, compLimit, cc.Create)
	comps.GET("/:id", optional, cc.Get)
	comps.GET("/:id/leaderboard", optional, cc.Leaderboard)
	comps.GET("/:id/feed", hub.Handler())
	comps.POST("/:id/invitations", required, cc.Invite)
	comps.POST("/:id/invitations/respond", required, cc.Respond)
	comps.POST("/:id/join", required, cc.Join)
	comps.POST("/:id/start", required, cc.Start)
	comps.POST("/:id/submit", required, cc.MarkSubmitted)
	comps.POST("/:id/end", required, cc.Complete)
	comps.POST("/:id/cancel", required, cc.Cancel)

	cfg := appCfg.Server
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// tickLoop drives scheduled starts and deadlines until ctx ends.
func tickLoop(ctx context.Context, svc *compservice.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := svc.Tick(ctx, now.UTC()); err != nil {
				logger.Warn(ctx, "competition tick failed", zap.Error(err))
			}
		}
	}
}

// replicaID names this process in its feed consumer group so every replica
// receives every event.
func replicaID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}
