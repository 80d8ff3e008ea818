package payroll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrorStats aggregates occurrences of one error code
type ErrorStats struct {
	Code              payroll.ErrorCode     `json:"code"`
	Category          payroll.ErrorCategory `json:"category"`
	Severity          payroll.ErrorSeverity `json:"severity"`
	Count             int64                 `json:"count"`
	FirstSeen         time.Time             `json:"first_seen"`
	LastSeen          time.Time             `json:"last_seen"`
	RecoverySucceeded int64                 `json:"recovery_succeeded"`
	RecoveryFailed    int64                 `json:"recovery_failed"`
}

// AlertConfig controls when the alert hook fires
type AlertConfig struct {
	Window    time.Duration
	Threshold int
}

// RecoveryFunc performs one automated recovery action. A nil error means the
// failure was recovered.
type RecoveryFunc func(ctx context.Context, action payroll.RecoveryAction) error

// ErrNoRecoveryHandler is returned by RecoveryFunc implementations that do not
// support the requested strategy
var ErrNoRecoveryHandler = errors.New("no handler for recovery strategy")

// ErrorHandler is the single place workflow errors are logged, counted and
// escalated.
type ErrorHandler struct {
	cfg       AlertConfig
	publisher shared.EventPublisher
	recorder  MetricsRecorder
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	stats     map[payroll.ErrorCode]*ErrorStats
	window    map[payroll.ErrorCategory][]time.Time
	lastAlert map[payroll.ErrorCategory]time.Time
}

// ErrorHandlerOption configures an ErrorHandler
type ErrorHandlerOption func(*ErrorHandler)

// WithErrorClock replaces the time source
func WithErrorClock(now func() time.Time) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.now = now }
}

// WithErrorRecorder sets the metrics recorder
func WithErrorRecorder(r MetricsRecorder) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		if r != nil {
			h.recorder = r
		}
	}
}

// NewErrorHandler creates an ErrorHandler. publisher may be nil.
func NewErrorHandler(cfg AlertConfig, publisher shared.EventPublisher, logger *zap.Logger, opts ...ErrorHandlerOption) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	h := &ErrorHandler{
		cfg:       cfg,
		publisher: publisher,
		recorder:  noopRecorder{},
		logger:    logger,
		now:       time.Now,
		stats:     make(map[payroll.ErrorCode]*ErrorStats),
		window:    make(map[payroll.ErrorCategory][]time.Time),
		lastAlert: make(map[payroll.ErrorCategory]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle converts err into the taxonomy, logs it once, counts it and raises
// an alert when needed. It returns the structured error for the caller.
// An error that already went through Handle is only enriched with the
// context fields it still lacks.
func (h *ErrorHandler) Handle(ctx context.Context, err error, opts ...payroll.ErrorOption) *payroll.WorkflowError {
	if err == nil {
		return nil
	}
	we := payroll.AsWorkflowError(err, payroll.ErrCodeInternal)
	if we.MarkHandled() {
		return we.Enrich(opts...)
	}
	we.Apply(opts...)
	at := h.now()

	h.log(we)
	h.recorder.RecordError(ctx, string(we.Code), string(we.Category))

	h.mu.Lock()
	s := h.statsFor(we, at)
	s.Count++
	s.LastSeen = at
	inWindow := h.slide(we.Category, at)
	reason, count := "", 0
	switch {
	case we.Severity == payroll.SeverityCritical:
		reason, count = "critical error", int(s.Count)
	case inWindow >= h.cfg.Threshold && at.Sub(h.lastAlert[we.Category]) >= h.cfg.Window:
		reason = fmt.Sprintf("%d %s errors within %s", inWindow, we.Category, h.cfg.Window)
		count = inWindow
		h.lastAlert[we.Category] = at
	}
	h.mu.Unlock()

	if reason != "" {
		h.alert(ctx, we, reason, count, at)
	}
	return we
}

// Recover runs the automated recovery actions of we in order and stops at the
// first one that succeeds. Manual actions are skipped.
func (h *ErrorHandler) Recover(ctx context.Context, we *payroll.WorkflowError, fn RecoveryFunc) bool {
	if we == nil || fn == nil {
		return false
	}
	for _, action := range we.RecoveryActions {
		if !action.Automated {
			continue
		}
		err := fn(ctx, action)
		if errors.Is(err, ErrNoRecoveryHandler) {
			continue
		}
		h.mu.Lock()
		s := h.statsFor(we, h.now())
		if err == nil {
			s.RecoverySucceeded++
		} else {
			s.RecoveryFailed++
		}
		h.mu.Unlock()

		if err == nil {
			h.logger.Info("Workflow error recovered",
				zap.String("code", string(we.Code)),
				zap.String("strategy", string(action.Strategy)))
			return true
		}
		h.logger.Warn("Recovery action failed",
			zap.String("code", string(we.Code)),
			zap.String("strategy", string(action.Strategy)),
			zap.Error(err))
	}
	return false
}

// Snapshot returns the per-code statistics ordered by count, highest first
func (h *ErrorHandler) Snapshot() []ErrorStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ErrorStats, 0, len(h.stats))
	for _, s := range h.stats {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ErrorStats) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		if a.Code < b.Code {
			return -1
		}
		if a.Code > b.Code {
			return 1
		}
		return 0
	})
	return out
}

// Reset clears statistics and alert windows
func (h *ErrorHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = make(map[payroll.ErrorCode]*ErrorStats)
	h.window = make(map[payroll.ErrorCategory][]time.Time)
	h.lastAlert = make(map[payroll.ErrorCategory]time.Time)
}

func (h *ErrorHandler) statsFor(we *payroll.WorkflowError, at time.Time) *ErrorStats {
	s, ok := h.stats[we.Code]
	if !ok {
		s = &ErrorStats{Code: we.Code, Category: we.Category, Severity: we.Severity, FirstSeen: at, LastSeen: at}
		h.stats[we.Code] = s
	}
	return s
}

// slide records one occurrence and returns the count inside the window
func (h *ErrorHandler) slide(category payroll.ErrorCategory, at time.Time) int {
	cutoff := at.Add(-h.cfg.Window)
	kept := h.window[category][:0]
	for _, t := range h.window[category] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	h.window[category] = kept
	return len(kept)
}

func (h *ErrorHandler) log(we *payroll.WorkflowError) {
	fields := []zap.Field{
		zap.String("code", string(we.Code)),
		zap.String("category", string(we.Category)),
		zap.String("severity", string(we.Severity)),
		zap.Bool("retryable", we.Retryable),
	}
	if c := we.Context; c.Operation != "" {
		fields = append(fields, zap.String("operation", c.Operation), zap.String("component", c.Component))
	}
	if we.Context.DocumentID != "" {
		fields = append(fields, zap.String("document_id", we.Context.DocumentID))
	}
	if we.Context.OperationID != "" {
		fields = append(fields, zap.String("operation_id", we.Context.OperationID))
	}
	if we.Context.ActorID != "" {
		fields = append(fields, zap.String("actor_id", we.Context.ActorID))
	}
	if we.Context.RequestID != "" {
		fields = append(fields, zap.String("request_id", we.Context.RequestID))
	}
	if len(we.Violations) > 0 {
		fields = append(fields, zap.Any("violations", we.Violations))
	}
	if we.Cause != nil {
		fields = append(fields, zap.NamedError("cause", we.Cause))
	}

	switch we.Severity {
	case payroll.SeverityLow, payroll.SeverityMedium:
		h.logger.Warn(we.Message, fields...)
	default:
		h.logger.Error(we.Message, fields...)
	}
}

func (h *ErrorHandler) alert(ctx context.Context, we *payroll.WorkflowError, reason string, count int, at time.Time) {
	h.logger.Error("Workflow alert raised",
		zap.String("code", string(we.Code)),
		zap.String("category", string(we.Category)),
		zap.String("reason", reason),
		zap.Int("count", count))
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, payroll.NewWorkflowAlertRaisedEvent(we, reason, count, at)); err != nil {
		h.logger.Error("Failed to publish workflow alert", zap.Error(err))
	}
}
