package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultSlowQuery = 200 * time.Millisecond
	// batch archive updates can carry thousands of document IDs
	maxLoggedStatement = 2048
)

// GormLogger routes GORM statements through zap, tagged with the request,
// actor, document and batch identifiers found in the query context.
type GormLogger struct {
	log       *zap.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
	maxSQL    int
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow.
// Zero disables slow-statement warnings.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		if threshold >= 0 {
			l.slowQuery = threshold
		}
	}
}

// WithMaxStatementLength caps the logged SQL text
func WithMaxStatementLength(n int) GormLoggerOption {
	return func(l *GormLogger) {
		if n > 0 {
			l.maxSQL = n
		}
	}
}

func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	gl := &GormLogger{
		log:       zapLogger.Named("sql"),
		level:     level,
		slowQuery: defaultSlowQuery,
		maxSQL:    maxLoggedStatement,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.With(correlationFields(ctx)...).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.With(correlationFields(ctx)...).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.With(correlationFields(ctx)...).Sugar().Errorf(msg, data...)
	}
}

// Trace reports one executed statement. Missing-row lookups are normal for
// status queries and are never logged as errors.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var msg string
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		msg = "SQL Error"
	case l.slowQuery > 0 && elapsed > l.slowQuery && l.level >= gormlogger.Warn:
		msg = "Slow SQL"
	case err == nil && l.level >= gormlogger.Info:
		msg = "SQL Query"
	default:
		return
	}

	sql, rows := fc()
	fields := append(correlationFields(ctx),
		zap.String("verb", statementVerb(sql)),
		zap.String("sql", l.clip(sql)),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)

	switch msg {
	case "SQL Error":
		l.log.Error(msg, append(fields, zap.Error(err))...)
	case "Slow SQL":
		l.log.Warn(msg, append(fields, zap.Duration("threshold", l.slowQuery))...)
	default:
		l.log.Debug(msg, fields...)
	}
}

func (l *GormLogger) clip(sql string) string {
	if len(sql) <= l.maxSQL {
		return sql
	}
	return sql[:l.maxSQL] + "...(truncated)"
}

// statementVerb returns the leading keyword, e.g. SELECT or UPDATE
func statementVerb(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToUpper(sql)
}

// MapGormLogLevel maps an application log level to a GORM log level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent", "off":
		return gormlogger.Silent
	case "error", "fatal":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
