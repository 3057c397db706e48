package app

import (
	"context"
	"learnhub_backend/internal/config"
	"learnhub_backend/internal/controller"
	"learnhub_backend/internal/events"
	"learnhub_backend/internal/ratelimit"
	"learnhub_backend/internal/repository"
	"learnhub_backend/internal/service"
	"learnhub_backend/internal/txn"
	"learnhub_backend/pkg/clock"
	"learnhub_backend/pkg/configwatcher"
	"learnhub_backend/pkg/database"
	"learnhub_backend/pkg/logger"
	"learnhub_backend/pkg/monitoring"
	"learnhub_backend/pkg/security"
	"learnhub_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	rateStore       ratelimit.Store
	tracerProvider  *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	content  *repository.ContentRepository
	txnStore *repository.GormTxnStore
}

type services struct {
	progress *service.ProgressService
	syllabus *service.SyllabusService
}

type controllers struct {
	progress *controller.ProgressController
	syllabus *controller.SyllabusController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		content:  repository.NewContentRepository(db),
		txnStore: repository.NewGormTxnStore(db),
	}
}

func (a *App) initPublisher(cfg *config.Config, rdb *redis.Client) events.Publisher {
	publishers := events.Multi{events.LogPublisher{}}
	if rdb != nil {
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.Events.RedisChannel))
	}
	return publishers
}

func (a *App) initServices(r *repositories, cfg *config.Config, publisher events.Publisher) *services {
	clk := clock.System()

	runner := txn.NewRunner(
		r.txnStore,
		txn.ExponentialRetry{
			MaxRetries:      uint64(cfg.Progress.MaxTxnRetries),
			InitialInterval: 20 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
		},
		txn.WithConflictHook(func() { monitoring.TxnConflicts.Inc() }),
	)

	progress := service.NewProgressService(r.content, r.txnStore, runner, publisher, clk, service.SettingsFromConfig(cfg))
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		progress.UpdateSettings(service.SettingsFromConfig(newCfg))
		logger.Log.Info("progress settings reloaded",
			zap.Int("passingThreshold", newCfg.Progress.PassingThresholdPercent),
			zap.Int("lessonXP", newCfg.Progress.DefaultLessonXP),
			zap.Int("quizXP", newCfg.Progress.DefaultQuizXP),
		)
	})

	return &services{
		progress: progress,
		syllabus: service.NewSyllabusService(r.content, publisher, clk, cfg.Syllabus.Concurrency),
	}
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		progress: controller.NewProgressController(s.progress),
		syllabus: controller.NewSyllabusController(s.syllabus),
		health:   controller.NewHealthController(db, rdb),
	}
}

func initRateStore(cfg *config.Config, rdb *redis.Client) ratelimit.Store {
	if cfg.RateLimit.Backend == "redis" && rdb != nil {
		return ratelimit.NewRedisStore(rdb, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())
	}
	return ratelimit.NewMemoryStore(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 定期清理内存限流器中过期的 key
func (a *App) startBackgroundTasks(ctx context.Context) {
	mem, ok := a.rateStore.(*ratelimit.MemoryStore)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(a.Config.RateLimit.Window())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := mem.Sweep(); n > 0 {
					logger.Log.Debug("rate limit keys swept", zap.Int("count", n))
				}
			}
		}
	}()
}

// build 组装依赖和路由，不做任何外部连接
func build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, app.initPublisher(cfg, rdb))
	controllers := app.initControllers(app.services, db, rdb)
	app.rateStore = initRateStore(cfg, rdb)

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
	}

	// 监控初始化
	monitoring.Init()

	app := build(cfg, db, rdb)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("learnhub", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracerProvider = tp
	}

	return app
}

// RebuildSyllabi 供命令行一次性重建全部课程大纲
func (a *App) RebuildSyllabi(ctx context.Context) ([]service.RebuildResult, error) {
	return a.services.syllabus.RebuildAll(ctx)
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	a.startBackgroundTasks(bgCtx)

	if a.ConfigDir != "" {
		go configwatcher.Watch(bgCtx, a.ConfigDir, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
