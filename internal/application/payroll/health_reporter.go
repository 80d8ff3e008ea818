package payroll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/taskqueue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthStatus is the verdict of one check
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthCritical:
		return 2
	case HealthWarning:
		return 1
	}
	return 0
}

// Worse returns the more severe of s and other
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Health components
const (
	ComponentStorage       = "storage"
	ComponentStatusService = "status_service"
	ComponentIntegrity     = "data_integrity"
	ComponentUtilization   = "resource_utilization"
)

// HealthComponents lists every sub-check in report order
func HealthComponents() []string {
	return []string{ComponentStorage, ComponentStatusService, ComponentIntegrity, ComponentUtilization}
}

// ComponentHealth is the result of one sub-check
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message"`
	Latency   time.Duration  `json:"latency"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// HealthMetrics are runtime counters attached on request
type HealthMetrics struct {
	Queue        taskqueue.Stats  `json:"queue"`
	DeadLetters  int              `json:"dead_letters"`
	StatusCounts map[string]int64 `json:"status_counts,omitempty"`
	Errors       []ErrorStats     `json:"errors"`
}

// SystemHealth is the aggregated report
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
	Duration   time.Duration     `json:"duration"`
	Cached     bool              `json:"cached"`
	Metrics    *HealthMetrics    `json:"metrics,omitempty"`
}

// HealthOptions select what Check returns
type HealthOptions struct {
	Detailed       bool
	Component      string
	IncludeMetrics bool
}

// HealthConfig holds check thresholds
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
	QueueDepthWarningPct float64
}

// DefaultHealthConfig returns the default thresholds
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckTimeout:         5 * time.Second,
		LatencyWarning:       500 * time.Millisecond,
		LatencyCritical:      2 * time.Second,
		UtilizationWarning:   0.80,
		UtilizationCritical:  0.95,
		ErrorRateWarning:     0.05,
		ErrorRateCritical:    0.20,
		ErrorRateWindow:      15 * time.Minute,
		RetentionDays:        90,
		CleanupBatchSize:     100,
		QueueDepthWarningPct: 0.80,
	}
}

// QueueInspector exposes generation queue state
type QueueInspector interface {
	QueueStats() taskqueue.Stats
	QueueCapacity() int
	DeadLetters(ctx context.Context) ([]*taskqueue.Task, error)
}

const healthCacheKey = "system"

// HealthReporter runs health checks and maintenance actions
type HealthReporter struct {
	repo     payroll.DocumentRepository
	audit    payroll.AuditTrail
	blobs    storage.BlobStorage
	queue    QueueInspector
	engine   *TransitionEngine
	errors   *ErrorHandler
	cache    shared.KeyedStore[SystemHealth]
	recorder MetricsRecorder
	cfg      HealthConfig
	logger   *zap.Logger
	now      func() time.Time
}

// HealthOption configures a HealthReporter
type HealthOption func(*HealthReporter)

// WithHealthClock replaces the time source
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthReporter) { h.now = now }
}

// WithHealthRecorder sets the metrics recorder
func WithHealthRecorder(r MetricsRecorder) HealthOption {
	return func(h *HealthReporter) {
		if r != nil {
			h.recorder = r
		}
	}
}

// NewHealthReporter creates a HealthReporter. cache holds the last full report
// and may be nil to disable caching.
func NewHealthReporter(
	repo payroll.DocumentRepository,
	audit payroll.AuditTrail,
	blobs storage.BlobStorage,
	queue QueueInspector,
	engine *TransitionEngine,
	errorHandler *ErrorHandler,
	cache shared.KeyedStore[SystemHealth],
	cfg HealthConfig,
	logger *zap.Logger,
	opts ...HealthOption,
) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultHealthConfig()
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.LatencyWarning <= 0 {
		cfg.LatencyWarning = def.LatencyWarning
	}
	if cfg.LatencyCritical <= 0 {
		cfg.LatencyCritical = def.LatencyCritical
	}
	if cfg.UtilizationWarning <= 0 {
		cfg.UtilizationWarning = def.UtilizationWarning
	}
	if cfg.UtilizationCritical <= 0 {
		cfg.UtilizationCritical = def.UtilizationCritical
	}
	if cfg.ErrorRateWarning <= 0 {
		cfg.ErrorRateWarning = def.ErrorRateWarning
	}
	if cfg.ErrorRateCritical <= 0 {
		cfg.ErrorRateCritical = def.ErrorRateCritical
	}
	if cfg.ErrorRateWindow <= 0 {
		cfg.ErrorRateWindow = def.ErrorRateWindow
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.CleanupBatchSize <= 0 {
		cfg.CleanupBatchSize = def.CleanupBatchSize
	}
	if cfg.QueueDepthWarningPct <= 0 {
		cfg.QueueDepthWarningPct = def.QueueDepthWarningPct
	}
	if errorHandler == nil {
		errorHandler = NewErrorHandler(AlertConfig{}, nil, logger)
	}
	h := &HealthReporter{
		repo:     repo,
		audit:    audit,
		blobs:    blobs,
		queue:    queue,
		engine:   engine,
		errors:   errorHandler,
		cache:    cache,
		recorder: noopRecorder{},
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ==================== Check ====================

// Check runs the sub-checks concurrently and returns the worst verdict.
// Full reports are served from the cache while it is fresh.
func (h *HealthReporter) Check(ctx context.Context, opts HealthOptions) (*SystemHealth, *payroll.WorkflowError) {
	components := HealthComponents()
	if opts.Component != "" {
		if !slices.Contains(components, opts.Component) {
			return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "unknown health component",
				payroll.WithField("component", components, opts.Component))
		}
		components = []string{opts.Component}
	}

	var report *SystemHealth
	if opts.Component == "" {
		report = h.cached(ctx)
	}
	if report == nil {
		report = h.run(ctx, components)
		if opts.Component == "" {
			h.store(ctx, report)
		}
	}

	if opts.IncludeMetrics {
		report.Metrics = h.metrics(ctx)
	}
	if !opts.Detailed {
		for i := range report.Components {
			report.Components[i].Details = nil
		}
	}
	return report, nil
}

func (h *HealthReporter) run(ctx context.Context, components []string) *SystemHealth {
	start := h.now()
	results := make([]ComponentHealth, len(components))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range components {
		g.Go(func() error {
			results[i] = h.runCheck(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	report := &SystemHealth{Status: HealthHealthy, Components: results, CheckedAt: start}
	for _, c := range results {
		report.Status = report.Status.Worse(c.Status)
		h.recorder.RecordHealth(ctx, c.Name, c.Status.rank())
	}
	report.Duration = h.now().Sub(start)
	if report.Status != HealthHealthy {
		h.logger.Warn("System health degraded", zap.String("status", string(report.Status)))
	}
	return report
}

// runCheck bounds one sub-check by the check timeout. A timeout is critical.
func (h *HealthReporter) runCheck(ctx context.Context, name string) ComponentHealth {
	cctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
	defer cancel()

	start := h.now()
	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ComponentHealth{Status: HealthCritical, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- h.check(cctx, name)
	}()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-cctx.Done():
		result = ComponentHealth{Status: HealthCritical, Message: fmt.Sprintf("check timed out after %s", h.cfg.CheckTimeout)}
	}
	result.Name = name
	result.Latency = h.now().Sub(start)
	result.CheckedAt = start
	return result
}

func (h *HealthReporter) check(ctx context.Context, name string) ComponentHealth {
	switch name {
	case ComponentStorage:
		return h.checkStorage(ctx)
	case ComponentStatusService:
		return h.checkStatusService(ctx)
	case ComponentIntegrity:
		return h.checkIntegrity(ctx)
	case ComponentUtilization:
		return h.checkUtilization(ctx)
	}
	return ComponentHealth{Status: HealthCritical, Message: "unknown component"}
}

func (h *HealthReporter) latencyStatus(d time.Duration) HealthStatus {
	switch {
	case d >= h.cfg.LatencyCritical:
		return HealthCritical
	case d >= h.cfg.LatencyWarning:
		return HealthWarning
	}
	return HealthHealthy
}

func (h *HealthReporter) checkStorage(ctx context.Context) ComponentHealth {
	start := h.now()
	if err := h.blobs.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  HealthCritical,
			Message: "storage is unreachable",
			Details: map[string]any{"provider": h.blobs.Provider(), "error": err.Error()},
		}
	}
	latency := h.now().Sub(start)
	status := h.latencyStatus(latency)
	msg := "storage is reachable"
	if status != HealthHealthy {
		msg = fmt.Sprintf("storage latency %s", latency)
	}
	return ComponentHealth{
		Status:  status,
		Message: msg,
		Details: map[string]any{"provider": h.blobs.Provider(), "ping_ms": latency.Milliseconds()},
	}
}

func (h *HealthReporter) checkStatusService(ctx context.Context) ComponentHealth {
	start := h.now()
	if err := h.repo.Ping(ctx); err != nil {
		return ComponentHealth{Status: HealthCritical, Message: "document store is unreachable",
			Details: map[string]any{"error": err.Error()}}
	}
	counts, err := h.repo.CountByStatus(ctx)
	if err != nil {
		return ComponentHealth{Status: HealthCritical, Message: "status query failed",
			Details: map[string]any{"error": err.Error()}}
	}
	latency := h.now().Sub(start)
	status := h.latencyStatus(latency)

	details := map[string]any{"query_ms": latency.Milliseconds(), "status_counts": counts}
	msg := "status service is responsive"

	failed, total, err := h.audit.CountSince(ctx, h.now().Add(-h.cfg.ErrorRateWindow))
	if err != nil {
		status = status.Worse(HealthWarning)
		details["audit_error"] = err.Error()
		msg = "audit trail query failed"
	} else if total > 0 {
		rate := float64(failed) / float64(total)
		details["error_rate"] = rate
		details["transitions"] = total
		switch {
		case rate >= h.cfg.ErrorRateCritical:
			status = HealthCritical
			msg = fmt.Sprintf("transition error rate %.1f%%", rate*100)
		case rate >= h.cfg.ErrorRateWarning:
			status = status.Worse(HealthWarning)
			msg = fmt.Sprintf("transition error rate %.1f%%", rate*100)
		}
	}
	if status == HealthWarning && msg == "status service is responsive" {
		msg = fmt.Sprintf("status queries took %s", latency)
	}
	return ComponentHealth{Status: status, Message: msg, Details: details}
}

func (h *HealthReporter) checkIntegrity(ctx context.Context) ComponentHealth {
	report, err := h.repo.IntegrityReport(ctx)
	if err != nil {
		return ComponentHealth{Status: HealthCritical, Message: "integrity query failed",
			Details: map[string]any{"error": err.Error()}}
	}
	details := map[string]any{
		"total_documents":          report.TotalDocuments,
		"net_above_gross":          report.NetAboveGross,
		"multiple_latest_versions": report.MultipleLatestVersions,
		"missing_files":            report.MissingFiles,
	}
	switch {
	case report.NetAboveGross > 0 || report.MultipleLatestVersions > 0:
		return ComponentHealth{Status: HealthCritical, Details: details,
			Message: fmt.Sprintf("%d documents violate payroll or lineage invariants", report.NetAboveGross+report.MultipleLatestVersions)}
	case report.MissingFiles > 0:
		return ComponentHealth{Status: HealthWarning, Details: details,
			Message: fmt.Sprintf("%d generated documents have no file", report.MissingFiles)}
	}
	return ComponentHealth{Status: HealthHealthy, Message: "no integrity violations", Details: details}
}

func (h *HealthReporter) checkUtilization(ctx context.Context) ComponentHealth {
	status := HealthHealthy
	var messages []string
	details := map[string]any{}

	usage, err := h.blobs.Usage(ctx)
	if err != nil {
		status = HealthWarning
		messages = append(messages, "storage usage unavailable")
		details["storage_error"] = err.Error()
	} else {
		ratio := usage.Ratio()
		details["storage_used_bytes"] = usage.UsedBytes
		details["storage_capacity_bytes"] = usage.CapacityBytes
		details["storage_objects"] = usage.Objects
		details["storage_ratio"] = ratio
		switch {
		case ratio >= h.cfg.UtilizationCritical:
			status = HealthCritical
			messages = append(messages, fmt.Sprintf("storage %.0f%% full", ratio*100))
		case ratio >= h.cfg.UtilizationWarning:
			status = status.Worse(HealthWarning)
			messages = append(messages, fmt.Sprintf("storage %.0f%% full", ratio*100))
		}
	}

	if h.queue != nil {
		stats := h.queue.QueueStats()
		capacity := h.queue.QueueCapacity()
		depth := stats.Depth()
		details["queue_depth"] = depth
		details["queue_capacity"] = capacity
		details["queue_running"] = stats.Running
		if capacity > 0 {
			fill := float64(depth) / float64(capacity)
			switch {
			case depth >= capacity:
				status = HealthCritical
				messages = append(messages, "generation queue is full")
			case fill >= h.cfg.QueueDepthWarningPct:
				status = status.Worse(HealthWarning)
				messages = append(messages, fmt.Sprintf("generation queue %.0f%% full", fill*100))
			}
		}
		if stats.DeadLettered > 0 {
			status = status.Worse(HealthWarning)
			details["dead_letters"] = stats.DeadLettered
			messages = append(messages, fmt.Sprintf("%d generations dead-lettered", stats.DeadLettered))
		}
	}

	msg := "resources within limits"
	if len(messages) > 0 {
		msg = messages[0]
		for _, m := range messages[1:] {
			msg += "; " + m
		}
	}
	return ComponentHealth{Status: status, Message: msg, Details: details}
}

func (h *HealthReporter) metrics(ctx context.Context) *HealthMetrics {
	m := &HealthMetrics{Errors: h.errors.Snapshot()}
	if h.queue != nil {
		m.Queue = h.queue.QueueStats()
		if dead, err := h.queue.DeadLetters(ctx); err == nil {
			m.DeadLetters = len(dead)
		}
	}
	if counts, err := (StatusCounter{Repo: h.repo}).CountByStatus(ctx); err == nil {
		m.StatusCounts = counts
	}
	return m
}

func (h *HealthReporter) cached(ctx context.Context) *SystemHealth {
	if h.cache == nil {
		return nil
	}
	report, err := h.cache.Get(ctx, healthCacheKey)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Warn("Failed to read health cache", zap.Error(err))
		}
		return nil
	}
	report.Cached = true
	return report
}

func (h *HealthReporter) store(ctx context.Context, report *SystemHealth) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, healthCacheKey, report); err != nil {
		h.logger.Warn("Failed to write health cache", zap.Error(err))
	}
}

// ==================== Maintenance ====================

// MaintenanceAction is a mutating health operation
type MaintenanceAction string

const (
	MaintenanceRefreshCache        MaintenanceAction = "REFRESH_CACHE"
	MaintenanceCleanupStorage      MaintenanceAction = "CLEANUP_STORAGE"
	MaintenanceRevalidateIntegrity MaintenanceAction = "REVALIDATE_INTEGRITY"
	MaintenanceResetMetrics        MaintenanceAction = "RESET_METRICS"
)

// MaintenanceRequest asks for one maintenance action
type MaintenanceRequest struct {
	Action    MaintenanceAction `json:"action" validate:"required,oneof=REFRESH_CACHE CLEANUP_STORAGE REVALIDATE_INTEGRITY RESET_METRICS"`
	Actor     payroll.Actor     `json:"-"`
	RequestID string            `json:"-"`
}

// MaintenanceResult reports what a maintenance action did
type MaintenanceResult struct {
	Action   MaintenanceAction `json:"action"`
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Affected int               `json:"affected"`
	Details  map[string]any    `json:"details,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Maintain runs a maintenance action. Only administrators may call it.
func (h *HealthReporter) Maintain(ctx context.Context, req MaintenanceRequest) (*MaintenanceResult, *payroll.WorkflowError) {
	opts := []payroll.ErrorOption{
		payroll.WithOperation("maintenance_"+string(req.Action), "health_reporter"),
		payroll.WithActor(req.Actor.ID.String()),
		payroll.WithRequestID(req.RequestID),
	}
	if !req.Actor.IsAdmin() {
		return nil, h.errors.Handle(ctx, permissionError(req.Actor, "maintenance"), opts...)
	}
	if werr := validateRequest(&req, func(string) payroll.ErrorCode { return payroll.ErrCodeMissingRequiredField }); werr != nil {
		return nil, h.errors.Handle(ctx, werr, opts...)
	}

	start := h.now()
	result := &MaintenanceResult{Action: req.Action, Details: map[string]any{}}
	var err error
	switch req.Action {
	case MaintenanceRefreshCache:
		h.invalidate(ctx)
		report := h.run(ctx, HealthComponents())
		h.store(ctx, report)
		result.Message = fmt.Sprintf("health cache refreshed, status %s", report.Status)
		result.Details["status"] = report.Status
	case MaintenanceCleanupStorage:
		err = h.cleanupStorage(ctx, req.Actor, result)
	case MaintenanceRevalidateIntegrity:
		c := h.checkIntegrity(ctx)
		result.Message = c.Message
		result.Details = c.Details
		if n, ok := c.Details["net_above_gross"].(int64); ok {
			result.Affected += int(n)
		}
		if n, ok := c.Details["multiple_latest_versions"].(int64); ok {
			result.Affected += int(n)
		}
		if n, ok := c.Details["missing_files"].(int64); ok {
			result.Affected += int(n)
		}
		h.invalidate(ctx)
	case MaintenanceResetMetrics:
		h.errors.Reset()
		h.invalidate(ctx)
		result.Message = "error statistics reset"
	}
	result.Duration = h.now().Sub(start)
	if err != nil {
		return nil, h.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeInternal), opts...)
	}
	result.Success = true

	h.logger.Info("Maintenance action completed",
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.Actor.ID.String()),
		zap.Int("affected", result.Affected),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// cleanupStorage purges expired previews and hard-deletes documents soft-deleted
// before the retention window. Audit records are kept.
func (h *HealthReporter) cleanupStorage(ctx context.Context, actor payroll.Actor, result *MaintenanceResult) error {
	now := h.now()
	previews, err := h.repo.FindExpiredPreviews(ctx, now, h.cfg.CleanupBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list expired previews: %w", err)
	}
	expired := 0
	for i := range previews {
		doc := &previews[i]
		path := ""
		if doc.File != nil {
			path = doc.File.Path
		}
		res := h.engine.ExpirePreview(ctx, doc.DocumentID, actor)
		if !res.Success {
			continue
		}
		if path != "" {
			if err := h.blobs.Delete(ctx, path); err != nil {
				h.logger.Warn("Failed to delete preview file", zap.String("path", path), zap.Error(err))
			}
		}
		expired++
	}

	cutoff := now.AddDate(0, 0, -h.cfg.RetentionDays)
	deleted, err := h.repo.FindDeletedBefore(ctx, cutoff, h.cfg.CleanupBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list documents past retention: %w", err)
	}
	purged := 0
	for i := range deleted {
		doc := &deleted[i]
		if doc.File != nil {
			if err := h.blobs.Delete(ctx, doc.File.Path); err != nil {
				h.logger.Warn("Failed to delete document file", zap.String("path", doc.File.Path), zap.Error(err))
				continue
			}
		}
		if err := h.repo.HardDelete(ctx, doc.ID); err != nil {
			h.logger.Warn("Failed to purge document", zap.String("document_id", doc.DocumentID), zap.Error(err))
			continue
		}
		purged++
	}

	h.invalidate(ctx)
	result.Affected = expired + purged
	result.Details["previews_expired"] = expired
	result.Details["documents_purged"] = purged
	result.Details["retention_cutoff"] = cutoff
	result.Message = fmt.Sprintf("expired %d previews, purged %d deleted documents", expired, purged)
	return nil
}

func (h *HealthReporter) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, healthCacheKey); err != nil {
		h.logger.Warn("Failed to clear health cache", zap.Error(err))
	}
}
