package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Storage     StorageConfig
	Renderer    RendererConfig
	Generation  GenerationConfig
	Batch       BatchConfig
	Health      HealthConfig
	Alerting    AlertingConfig
	Maintenance MaintenanceConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name          string
	Env           string
	Port          string
	DefaultLocale string // en, fr
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	QueryTimeout    time.Duration
	SlowQuery       time.Duration
}

// RedisConfig holds Redis connection settings. When disabled, batch state is kept in process.
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds the settings used to resolve the calling actor
type JWTConfig struct {
	Secret                string
	Issuer                string
	AccessTokenExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	RequestTimeout   time.Duration
	RateLimitRPS     float64 // per actor, 0 disables
	RateLimitBurst   int
}

// StorageConfig selects and configures the blob storage provider
type StorageConfig struct {
	Provider     string // filesystem, s3, minio
	BasePath     string // filesystem root
	BaseURL      string // URL prefix for filesystem objects
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	CapacityGB   int64 // declared capacity used for utilization ratios (0 = unknown)
}

// RendererConfig configures the chromedp PDF renderer
type RendererConfig struct {
	RemoteURL string // connect to an existing Chrome instead of launching one
	NoSandbox bool
	Timeout   time.Duration
}

// GenerationConfig holds document generation limits
type GenerationConfig struct {
	MaxConcurrent   int
	QueueCapacity   int
	QueueWorkers    int
	MaxAttempts     int
	RetryDelay      time.Duration
	PDFMinBytes     int
	PDFMaxBytes     int
	PreviewTTL      time.Duration
	StorageTimeout  time.Duration
	RenderTimeout   time.Duration
	ResumeOnStartup bool
}

// BatchConfig holds batch orchestration limits
type BatchConfig struct {
	MaxDocuments     int
	ChunkSize        int
	ChunkConcurrency int
	OperationTTL     time.Duration
}

// HealthConfig holds health check thresholds
type HealthConfig struct {
	CheckTimeout         time.Duration
	LatencyWarning       time.Duration
	LatencyCritical      time.Duration
	UtilizationWarning   float64
	UtilizationCritical  float64
	ErrorRateWarning     float64
	ErrorRateCritical    float64
	ErrorRateWindow      time.Duration
	RetentionDays        int
	CleanupBatchSize     int
	StatusCacheTTL       time.Duration
	QueueDepthWarningPct float64
}

// MaintenanceConfig schedules the nightly maintenance jobs
type MaintenanceConfig struct {
	Enabled       bool
	Schedule      string   // "minute hour * * *", daily only
	Actions       []string // maintenance actions run on each trigger
	Workers       int
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// AlertingConfig controls the workflow error alert hook
type AlertingConfig struct {
	Window    time.Duration
	Threshold int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool    // Log full SQL statements (dev only)
	ExportLogs        bool    // Tee zap logs into the OTLP log pipeline
	MetricsInterval   time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with PAYROLL_ prefix (e.g., PAYROLL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payroll")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("PAYROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:          v.GetString("app.name"),
			Env:           v.GetString("app.env"),
			Port:          v.GetString("app.port"),
			DefaultLocale: v.GetString("app.default_locale"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			QueryTimeout:    v.GetDuration("database.query_timeout"),
			SlowQuery:       v.GetDuration("database.slow_query"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			Issuer:                v.GetString("jwt.issuer"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Storage: StorageConfig{
			Provider:     v.GetString("storage.provider"),
			BasePath:     v.GetString("storage.base_path"),
			BaseURL:      v.GetString("storage.base_url"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			CapacityGB:   v.GetInt64("storage.capacity_gb"),
		},
		Renderer: RendererConfig{
			RemoteURL: v.GetString("renderer.remote_url"),
			NoSandbox: v.GetBool("renderer.no_sandbox"),
			Timeout:   v.GetDuration("renderer.timeout"),
		},
		Generation: GenerationConfig{
			MaxConcurrent:   v.GetInt("generation.max_concurrent"),
			QueueCapacity:   v.GetInt("generation.queue_capacity"),
			QueueWorkers:    v.GetInt("generation.queue_workers"),
			MaxAttempts:     v.GetInt("generation.max_attempts"),
			RetryDelay:      v.GetDuration("generation.retry_delay"),
			PDFMinBytes:     v.GetInt("generation.pdf_min_bytes"),
			PDFMaxBytes:     v.GetInt("generation.pdf_max_bytes"),
			PreviewTTL:      v.GetDuration("generation.preview_ttl"),
			StorageTimeout:  v.GetDuration("generation.storage_timeout"),
			RenderTimeout:   v.GetDuration("generation.render_timeout"),
			ResumeOnStartup: v.GetBool("generation.resume_on_startup"),
		},
		Batch: BatchConfig{
			MaxDocuments:     v.GetInt("batch.max_documents"),
			ChunkSize:        v.GetInt("batch.chunk_size"),
			ChunkConcurrency: v.GetInt("batch.chunk_concurrency"),
			OperationTTL:     v.GetDuration("batch.operation_ttl"),
		},
		Health: HealthConfig{
			CheckTimeout:         v.GetDuration("health.check_timeout"),
			LatencyWarning:       v.GetDuration("health.latency_warning"),
			LatencyCritical:      v.GetDuration("health.latency_critical"),
			UtilizationWarning:   v.GetFloat64("health.utilization_warning"),
			UtilizationCritical:  v.GetFloat64("health.utilization_critical"),
			ErrorRateWarning:     v.GetFloat64("health.error_rate_warning"),
			ErrorRateCritical:    v.GetFloat64("health.error_rate_critical"),
			ErrorRateWindow:      v.GetDuration("health.error_rate_window"),
			RetentionDays:        v.GetInt("health.retention_days"),
			CleanupBatchSize:     v.GetInt("health.cleanup_batch_size"),
			StatusCacheTTL:       v.GetDuration("health.status_cache_ttl"),
			QueueDepthWarningPct: v.GetFloat64("health.queue_depth_warning_pct"),
		},
		Alerting: AlertingConfig{
			Window:    v.GetDuration("alerting.window"),
			Threshold: v.GetInt("alerting.threshold"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:       v.GetBool("maintenance.enabled"),
			Schedule:      v.GetString("maintenance.schedule"),
			Actions:       v.GetStringSlice("maintenance.actions"),
			Workers:       v.GetInt("maintenance.workers"),
			JobTimeout:    v.GetDuration("maintenance.job_timeout"),
			RetryAttempts: v.GetInt("maintenance.retry_attempts"),
			RetryDelay:    v.GetDuration("maintenance.retry_delay"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			ExportLogs:        v.GetBool("telemetry.export_logs"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "payroll-documents"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.DefaultLocale == "" {
		cfg.App.DefaultLocale = "fr"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 120 * time.Second // synchronous generation may render for a while
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 90 * time.Second
	}
	if cfg.HTTP.RateLimitRPS > 0 && cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = max(1, int(cfg.HTTP.RateLimitRPS))
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "Accept-Language"}
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "payroll"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "payroll.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 10 * time.Second
	}
	if cfg.Database.SlowQuery == 0 {
		cfg.Database.SlowQuery = 200 * time.Millisecond
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "payroll:"
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "erp-backend"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "filesystem"
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "/data/payroll-documents"
	}
	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = "/api/v1/payroll/files"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "payroll-documents"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Renderer.Timeout == 0 {
		cfg.Renderer.Timeout = 60 * time.Second
	}

	if cfg.Generation.MaxConcurrent == 0 {
		cfg.Generation.MaxConcurrent = 5
	}
	if cfg.Generation.QueueCapacity == 0 {
		cfg.Generation.QueueCapacity = 100
	}
	if cfg.Generation.QueueWorkers == 0 {
		cfg.Generation.QueueWorkers = cfg.Generation.MaxConcurrent
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.RetryDelay == 0 {
		cfg.Generation.RetryDelay = 5 * time.Second
	}
	if cfg.Generation.PDFMinBytes == 0 {
		cfg.Generation.PDFMinBytes = 1024
	}
	if cfg.Generation.PDFMaxBytes == 0 {
		cfg.Generation.PDFMaxBytes = 10 << 20
	}
	if cfg.Generation.PreviewTTL == 0 {
		cfg.Generation.PreviewTTL = 24 * time.Hour
	}
	if cfg.Generation.StorageTimeout == 0 {
		cfg.Generation.StorageTimeout = 10 * time.Second
	}
	if cfg.Generation.RenderTimeout == 0 {
		cfg.Generation.RenderTimeout = 60 * time.Second
	}

	if cfg.Batch.MaxDocuments == 0 {
		cfg.Batch.MaxDocuments = 1000
	}
	if cfg.Batch.ChunkSize == 0 {
		cfg.Batch.ChunkSize = 50
	}
	if cfg.Batch.ChunkConcurrency == 0 {
		cfg.Batch.ChunkConcurrency = 5
	}
	if cfg.Batch.OperationTTL == 0 {
		cfg.Batch.OperationTTL = 7 * 24 * time.Hour
	}

	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = 5 * time.Second
	}
	if cfg.Health.LatencyWarning == 0 {
		cfg.Health.LatencyWarning = 500 * time.Millisecond
	}
	if cfg.Health.LatencyCritical == 0 {
		cfg.Health.LatencyCritical = 2 * time.Second
	}
	if cfg.Health.UtilizationWarning == 0 {
		cfg.Health.UtilizationWarning = 0.80
	}
	if cfg.Health.UtilizationCritical == 0 {
		cfg.Health.UtilizationCritical = 0.95
	}
	if cfg.Health.ErrorRateWarning == 0 {
		cfg.Health.ErrorRateWarning = 0.05
	}
	if cfg.Health.ErrorRateCritical == 0 {
		cfg.Health.ErrorRateCritical = 0.20
	}
	if cfg.Health.ErrorRateWindow == 0 {
		cfg.Health.ErrorRateWindow = time.Hour
	}
	if cfg.Health.RetentionDays == 0 {
		cfg.Health.RetentionDays = 365
	}
	if cfg.Health.CleanupBatchSize == 0 {
		cfg.Health.CleanupBatchSize = 200
	}
	if cfg.Health.StatusCacheTTL == 0 {
		cfg.Health.StatusCacheTTL = 30 * time.Second
	}
	if cfg.Health.QueueDepthWarningPct == 0 {
		cfg.Health.QueueDepthWarningPct = 0.75
	}

	if cfg.Alerting.Window == 0 {
		cfg.Alerting.Window = 5 * time.Minute
	}
	if cfg.Alerting.Threshold == 0 {
		cfg.Alerting.Threshold = 10
	}

	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "0 2 * * *"
	}
	if len(cfg.Maintenance.Actions) == 0 {
		cfg.Maintenance.Actions = []string{"CLEANUP_STORAGE", "REVALIDATE_INTEGRITY"}
	}
	if cfg.Maintenance.Workers == 0 {
		cfg.Maintenance.Workers = 1
	}
	if cfg.Maintenance.JobTimeout == 0 {
		cfg.Maintenance.JobTimeout = 30 * time.Minute
	}
	if cfg.Maintenance.RetryAttempts == 0 {
		cfg.Maintenance.RetryAttempts = 3
	}
	if cfg.Maintenance.RetryDelay == 0 {
		cfg.Maintenance.RetryDelay = 5 * time.Minute
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "payroll-documents"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Storage.Provider {
	case "filesystem":
	case "s3", "minio":
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key are required for provider %s", c.Storage.Provider)
		}
	default:
		return fmt.Errorf("storage.provider must be filesystem, s3 or minio, got %q", c.Storage.Provider)
	}

	if c.Generation.MaxConcurrent < 1 {
		return fmt.Errorf("generation.max_concurrent must be at least 1")
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if c.Generation.PDFMinBytes >= c.Generation.PDFMaxBytes {
		return fmt.Errorf("generation.pdf_min_bytes (%d) must be below generation.pdf_max_bytes (%d)",
			c.Generation.PDFMinBytes, c.Generation.PDFMaxBytes)
	}
	if c.Batch.ChunkSize < 1 || c.Batch.ChunkConcurrency < 1 {
		return fmt.Errorf("batch.chunk_size and batch.chunk_concurrency must be at least 1")
	}
	if c.Health.LatencyWarning >= c.Health.LatencyCritical {
		return fmt.Errorf("health.latency_warning must be below health.latency_critical")
	}
	if c.Health.UtilizationWarning >= c.Health.UtilizationCritical || c.Health.UtilizationCritical > 1 {
		return fmt.Errorf("health utilization thresholds must satisfy warning < critical <= 1")
	}

	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "sqlite" {
			return fmt.Errorf("database.driver sqlite is not supported in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
