package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/controller"
	"lingua_edu_backend/internal/repository"
	"lingua_edu_backend/internal/service"
	"lingua_edu_backend/pkg/configwatcher"
	"lingua_edu_backend/pkg/database"
	"lingua_edu_backend/pkg/logger"
	"lingua_edu_backend/pkg/monitoring"
	"lingua_edu_backend/pkg/security"
	"lingua_edu_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
}

type repositories struct {
	user    *repository.UserRepository
	module  *repository.ModuleRepository
	test    *repository.TestRepository
	attempt *repository.AttemptRepository
	result  *repository.ResultRepository
	grant   *repository.AccessGrantRepository
}

type services struct {
	auth          *service.AuthService
	storage       *service.StorageService
	transcription *service.TranscriptionService
	scoring       *service.ScoringService
	progression   *service.ProgressionService
	session       *service.SessionService
}

type controllers struct {
	auth    *controller.AuthController
	module  *controller.ModuleController
	attempt *controller.AttemptController
	access  *controller.AccessController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:    repository.NewUserRepository(db),
		module:  repository.NewModuleRepository(db),
		test:    repository.NewTestRepository(db),
		attempt: repository.NewAttemptRepository(db),
		result:  repository.NewResultRepository(db),
		grant:   repository.NewAccessGrantRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.transcription = service.NewTranscriptionService(&cfg.Transcription)
	s.scoring = service.NewScoringService(s.transcription, &cfg.Assessment)
	s.progression = service.NewProgressionService(repos.module, repos.grant, repos.result, rdb, &cfg.Assessment)
	s.session = service.NewSessionService(repos.attempt, repos.test, s.progression, s.scoring, s.storage, &cfg.Assessment)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		module:  controller.NewModuleController(repos.module, repos.test, s.progression),
		attempt: controller.NewAttemptController(s.session, repos.result),
		access:  controller.NewAccessController(s.progression, repos.grant, repos.user),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// watchConfig 热加载测评参数：及格线、违规限额、录音上限
func (a *App) watchConfig() {
	go configwatcher.WatchConfig("configs/config.yaml", func(newCfg *config.Config) {
		a.services.progression.MasteryThreshold = newCfg.Assessment.MasteryThreshold
		a.services.scoring.Tolerance = newCfg.Assessment.ScoreTolerance
		a.services.session.ViolationLimit = newCfg.Assessment.ViolationLimit
		a.services.session.RecordingCeiling = time.Duration(newCfg.Assessment.ListeningRecordingLimitSeconds) * time.Second
		logger.Log.Info("assessment config reloaded",
			zap.Float64("masteryThreshold", newCfg.Assessment.MasteryThreshold),
			zap.Float64("scoreTolerance", newCfg.Assessment.ScoreTolerance))
	})
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis 不可用时解锁广播与判定缓存降级为关闭，判定逻辑不受影响
		logger.Log.Warn("Redis unavailable, access broadcasting and cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("assessment-platform", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.watchConfig()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
