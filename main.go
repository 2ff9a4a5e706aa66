package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registrar/config"
	"registrar/database"
	"registrar/database/memstore"
	_ "registrar/docs"
	"registrar/metrics"
	"registrar/middleware"
	"registrar/realtime"
	v1 "registrar/routes/v1"
	"registrar/services"
	"registrar/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "registrar"

// @title Registrar API
// @version 1.0
// @description Competition registrations with team invitations and seat accounting
// @BasePath /api/v1
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	deps, err := storage(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}

	if cfg.RedisURL != "" {
		client, err := database.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to open redis")
		}
		defer client.Close()
		deps.Cache = database.NewRedisStatusCache(client, cfg.StatusCacheTTL, log)
		deps.SweepLock = database.NewRedisSweepLock(client)
		log.Info("Redis status cache and sweep lock enabled")
	}

	if cfg.MailHost != "" {
		deps.Mailer = services.NewSMTPMailer(cfg)
	} else {
		log.Warn("MAIL_HOST is not set, emails are logged instead of sent")
		deps.Mailer = services.NewLogMailer(log, cfg.ClientUrl)
	}
	mailQueue := services.NewMailQueue(cfg.MailWorkers, cfg.MailQueueSize, log)
	deps.MailQueue = mailQueue

	hub := realtime.NewHub(256, log)
	deps.Notifier = hub
	deps.Policy = cfg.Invitations
	deps.MailReportTimeout = cfg.MailReportTimeout
	deps.SweepBatchSize = cfg.SweepBatchSize
	deps.Logger = log

	coordinator := services.NewCoordinator(*deps)
	rateLimiter := middleware.NewRateLimiter(100, 150) // 100 requests per minute, 150 burst

	go hub.Run(ctx)
	go coordinator.RunSweeper(ctx, cfg.SweepInterval)
	go metrics.CollectSystemMetrics(ctx, 15*time.Second)
	go rateLimiter.Cleanup(ctx, 10*time.Minute)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(cors.New(corsConfig(cfg)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1.Register(router, v1.Deps{
		Coordinator: coordinator,
		Hub:         hub,
		RateLimiter: rateLimiter,
		JWTSecret:   cfg.JWTSecret,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	mailQueue.Stop(10 * time.Second)
}

// storage opens the configured backend and returns the dependencies it provides
func storage(cfg *config.Config, log *logrus.Logger) (*services.Deps, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		store := memstore.New()
		seedMemory(cfg, store, log)
		return &services.Deps{Store: store, Identity: store, Submissions: store, Payments: store}, nil
	default:
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required")
		}
		db, err := database.Open(cfg, log)
		if err != nil {
			return nil, err
		}
		if err := database.Populate(db, log); err != nil {
			return nil, err
		}
		store := database.NewStore(db)
		return &services.Deps{Store: store, Identity: store, Submissions: store, Payments: store}, nil
	}
}

// seedMemory loads the demo data and logs a token per demo user
func seedMemory(cfg *config.Config, store *memstore.Store, log *logrus.Logger) {
	if cfg.JWTSecret == "" {
		secret, err := services.NewToken()
		if err != nil {
			log.WithError(err).Fatal("Failed to generate a JWT secret")
		}
		cfg.JWTSecret = secret
	}

	comp := store.AddCompetition(database.DemoCompetition(time.Now()))
	log.WithField("competition_id", comp.ID).Info("Demo competition created")

	for _, u := range database.DemoUsers() {
		u = store.AddUser(u)
		token, err := middleware.IssueToken(cfg.JWTSecret, u.ID, u.Email, u.Email == database.DemoAdminEmail, 24*time.Hour)
		if err != nil {
			log.WithError(err).Fatal("Failed to issue demo token")
		}
		log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email, "token": token}).Info("Demo user")
	}
}

func corsConfig(cfg *config.Config) cors.Config {
	origins := cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{cfg.ClientUrl}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Info("Request")
	}
}
