package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	payrollapp "github.com/erp/payroll/internal/application/payroll"
	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/auth"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/erp/payroll/internal/infrastructure/event"
	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/erp/payroll/internal/infrastructure/logger"
	"github.com/erp/payroll/internal/infrastructure/persistence"
	"github.com/erp/payroll/internal/infrastructure/rendering"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/taskqueue"
	"github.com/erp/payroll/internal/infrastructure/telemetry"
	"github.com/erp/payroll/internal/interfaces/http/handler"
	"github.com/erp/payroll/internal/interfaces/http/middleware"
	"github.com/erp/payroll/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		TimeFormat:  "2006-01-02T15:04:05.000Z07:00",
		ServiceName: cfg.Telemetry.ServiceName,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// Telemetry comes before everything that records metrics or spans
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Environment:       cfg.App.Env,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		Insecure:          cfg.Telemetry.Insecure,
		ExportLogs:        cfg.Telemetry.ExportLogs,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()

	// Tee logs into the OTLP pipeline once it exists
	if providers.Logs.IsEnabled() {
		teed, err := logger.New(logCfg, providers.Logs.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			log.Fatal("Failed to attach OTLP log core", zap.Error(err))
		}
		log = teed
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting payroll workflow service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Database.SlowQuery))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if db.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	dbSystem := "postgresql"
	if db.Driver == "sqlite" {
		dbSystem = "sqlite"
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		DBSystem:   dbSystem,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", db.Driver))

	// Repositories
	documentRepo := persistence.NewGormDocumentRepository(db.DB)
	auditTrail := persistence.NewGormAuditTrail(db.DB)
	employeeDirectory := persistence.NewGormEmployeeDirectory(db.DB)

	// Keyed state (Redis when enabled, process memory otherwise)
	stores, err := kvstore.NewFactory(ctx, cfg.Redis, kvstore.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to initialize keyed store", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing keyed store", zap.Error(err))
		}
	}()
	taskStore := kvstore.NewStore[taskqueue.Task](stores, "generation_tasks", 0)
	batchStore := kvstore.NewStore[payroll.BatchOperation](stores, "batch_operations", cfg.Batch.OperationTTL)
	healthCache := kvstore.NewStore[payrollapp.SystemHealth](stores, "health", cfg.Health.StatusCacheTTL)
	revocations := auth.NewSessionRevocations(
		kvstore.NewStore[auth.RevokedSession](stores, "revoked_sessions", cfg.JWT.AccessTokenExpiration))

	// Blob storage, with a local fallback when the primary is remote
	blobs, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize blob storage", zap.Error(err))
	}
	var fallback storage.BlobStorage
	if cfg.Storage.Provider != "" && cfg.Storage.Provider != storage.ProviderFilesystem && cfg.Storage.BasePath != "" {
		fallback, err = storage.NewFileSystemStorage(storage.FileSystemConfig{
			BasePath: cfg.Storage.BasePath,
			BaseURL:  cfg.Storage.BaseURL,
			Logger:   log,
		})
		if err != nil {
			log.Warn("Local fallback storage unavailable", zap.Error(err))
			fallback = nil
		}
	}

	// Rendering
	templates, err := rendering.NewTemplateEngine(rendering.WithLanguage(payroll.MatchLanguage(cfg.App.DefaultLocale)))
	if err != nil {
		log.Fatal("Failed to load document templates", zap.Error(err))
	}
	pdf := rendering.NewChromedpRenderer(rendering.ChromedpConfig{
		DefaultTimeout: cfg.Renderer.Timeout,
		RemoteURL:      cfg.Renderer.RemoteURL,
		NoSandbox:      cfg.Renderer.NoSandbox,
		Logger:         log,
	})
	defer func() {
		if err := pdf.Close(); err != nil {
			log.Error("Error closing renderer", zap.Error(err))
		}
	}()
	renderer := rendering.NewTemplateDocumentRenderer(templates, pdf, cfg.App.Name, log)

	// Workflow metrics
	workflowMetrics, err := telemetry.NewWorkflowMetrics(telemetry.WorkflowMetricsConfig{
		Meter:          providers.Meter.Meter("payroll-workflow"),
		Logger:         log,
		StatusProvider: payrollapp.StatusCounter{Repo: documentRepo},
	})
	if err != nil {
		log.Fatal("Failed to create workflow metrics", zap.Error(err))
	}
	workflowMetrics.Start(ctx, time.Minute)
	defer workflowMetrics.Stop()

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	metricsSubscriber := event.NewMetricsSubscriber(workflowMetrics)
	alertLogger := event.NewAlertLogger(log)
	eventBus.Subscribe(metricsSubscriber, metricsSubscriber.EventTypes()...)
	eventBus.Subscribe(alertLogger, alertLogger.EventTypes()...)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()
	log.Info("Event handlers registered",
		zap.Strings("metrics_events", metricsSubscriber.EventTypes()),
		zap.Strings("alert_events", alertLogger.EventTypes()),
	)

	// Application services
	errorHandler := payrollapp.NewErrorHandler(payrollapp.AlertConfig{
		Window:    cfg.Alerting.Window,
		Threshold: cfg.Alerting.Threshold,
	}, eventBus, log, payrollapp.WithErrorRecorder(workflowMetrics))

	engine := payrollapp.NewTransitionEngine(documentRepo, auditTrail, errorHandler,
		payrollapp.TransitionEngineConfig{StoreTimeout: cfg.Database.QueryTimeout}, log,
		payrollapp.WithEngineRecorder(workflowMetrics),
		payrollapp.WithEnginePublisher(eventBus),
	)

	generationOpts := []payrollapp.GenerationOption{
		payrollapp.WithGenerationRecorder(workflowMetrics),
		payrollapp.WithGenerationPublisher(eventBus),
	}
	if fallback != nil {
		generationOpts = append(generationOpts, payrollapp.WithFallbackStorage(fallback))
	}
	pipeline := payrollapp.NewGenerationPipeline(documentRepo, employeeDirectory, engine, renderer, blobs,
		taskStore, errorHandler, payrollapp.GenerationConfig{
			MaxConcurrent:   cfg.Generation.MaxConcurrent,
			QueueCapacity:   cfg.Generation.QueueCapacity,
			QueueWorkers:    cfg.Generation.QueueWorkers,
			MaxAttempts:     cfg.Generation.MaxAttempts,
			RetryDelay:      cfg.Generation.RetryDelay,
			PDFMinBytes:     cfg.Generation.PDFMinBytes,
			PDFMaxBytes:     cfg.Generation.PDFMaxBytes,
			PreviewTTL:      cfg.Generation.PreviewTTL,
			StorageTimeout:  cfg.Generation.StorageTimeout,
			RenderTimeout:   cfg.Generation.RenderTimeout,
			StoreTimeout:    cfg.Database.QueryTimeout,
			ResumeOnStartup: cfg.Generation.ResumeOnStartup,
		}, log, generationOpts...)

	batches := payrollapp.NewBatchOrchestrator(documentRepo, engine, blobs, batchStore, errorHandler,
		payrollapp.BatchConfig{
			MaxDocuments:     cfg.Batch.MaxDocuments,
			ChunkSize:        cfg.Batch.ChunkSize,
			ChunkConcurrency: cfg.Batch.ChunkConcurrency,
			StoreTimeout:     cfg.Database.QueryTimeout,
			StorageTimeout:   cfg.Generation.StorageTimeout,
		}, log,
		payrollapp.WithBatchRecorder(workflowMetrics),
		payrollapp.WithBatchPublisher(eventBus),
	)

	statusService := payrollapp.NewStatusService(documentRepo, auditTrail, errorHandler, cfg.Database.QueryTimeout, log)

	health := payrollapp.NewHealthReporter(documentRepo, auditTrail, blobs, pipeline, engine, errorHandler,
		healthCache, payrollapp.HealthConfig{
			CheckTimeout:         cfg.Health.CheckTimeout,
			LatencyWarning:       cfg.Health.LatencyWarning,
			LatencyCritical:      cfg.Health.LatencyCritical,
			UtilizationWarning:   cfg.Health.UtilizationWarning,
			UtilizationCritical:  cfg.Health.UtilizationCritical,
			ErrorRateWarning:     cfg.Health.ErrorRateWarning,
			ErrorRateCritical:    cfg.Health.ErrorRateCritical,
			ErrorRateWindow:      cfg.Health.ErrorRateWindow,
			RetentionDays:        cfg.Health.RetentionDays,
			CleanupBatchSize:     cfg.Health.CleanupBatchSize,
			QueueDepthWarningPct: cfg.Health.QueueDepthWarningPct,
		}, log, payrollapp.WithHealthRecorder(workflowMetrics))

	// Generation queue workers
	if err := pipeline.Start(ctx); err != nil {
		log.Fatal("Failed to start generation queue", zap.Error(err))
	}
	defer func() {
		if err := pipeline.Stop(context.Background()); err != nil {
			log.Error("Error stopping generation queue", zap.Error(err))
		}
	}()
	if cfg.Generation.ResumeOnStartup {
		resumed, err := pipeline.ResumePending(ctx)
		if err != nil {
			log.Error("Failed to resume pending generations", zap.Error(err))
		} else if resumed > 0 {
			log.Info("Resumed pending generations", zap.Int("count", resumed))
		}
	}

	if cfg.Maintenance.Enabled {
		stopMaintenance, err := startMaintenance(ctx, cfg.Maintenance, health, log)
		if err != nil {
			log.Fatal("Failed to start scheduled maintenance", zap.Error(err))
		}
		defer stopMaintenance()
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	httpEngine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := httpEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}
	r := router.NewRouter(httpEngine, router.WithAPIVersion("v1"))

	resolver := auth.NewJWTActorResolver(cfg.JWT, auth.WithRevocations(revocations))

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Security headers and CORS
	// 4. Tracing, then request logging and HTTP metrics inside the span
	// 5. BodyLimit and Timeout
	// 6. Actor - Resolve the caller from the bearer token
	// 7. Span enrichment and rate limiting per actor
	httpEngine.Use(middleware.RequestID())
	httpEngine.Use(logger.Recovery(log))
	httpEngine.Use(middleware.Secure())
	httpEngine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	httpEngine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	httpEngine.Use(logger.GinMiddleware(log))
	httpEngine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: providers.Meter,
		Enabled:       cfg.Telemetry.Enabled,
		SkipPaths:     []string{"/health"},
	}))
	httpEngine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	httpEngine.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
	httpEngine.Use(middleware.Actor(middleware.ActorConfig{
		Resolver:  resolver,
		SkipPaths: append(r.PublicPaths(), "/health"),
		Logger:    log,
	}))
	httpEngine.Use(middleware.TracingAttributeInjector())
	httpEngine.Use(middleware.SpanErrorMarker())

	if cfg.HTTP.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		defer limiter.Stop()
		httpEngine.Use(middleware.RateLimit(limiter))
		log.Info("Rate limiting enabled",
			zap.Float64("rps", cfg.HTTP.RateLimitRPS),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}

	// Liveness probe outside API versioning; readiness is the payroll health route
	httpEngine.GET("/health", livenessHandler(db))

	systemHandler := handler.NewSystemHandler(health, version)
	r.Register(router.NewPayrollGroup(router.PayrollHandlers{
		Documents: handler.NewDocumentHandler(pipeline, engine, statusService),
		Batches:   handler.NewBatchHandler(batches),
		System:    systemHandler,
	}))
	if err := r.Setup(); err != nil {
		log.Fatal("Failed to register routes", zap.Error(err))
	}
	log.Info("Routes registered", zap.Int("count", len(r.Routes())))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// livenessHandler answers load balancer probes with a database ping only
func livenessHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(c.Request.Context()); err != nil {
			reqLog.Warn("Liveness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "critical",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
