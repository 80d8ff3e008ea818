//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/migration"
	"github.com/erp/payroll/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("payroll_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("payroll"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := migration.NewFromFS(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(3), status.Version)
	assert.False(t, status.Dirty)
	return db
}

func TestPostgres_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)
	repo := NewGormDocumentRepository(db)
	trail := NewGormAuditTrail(db)
	directory := NewGormEmployeeDirectory(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	emp := testEmployee()
	require.NoError(t, directory.Save(ctx, emp))

	doc := testDocument(t, emp, payroll.Period{Year: 2024, Month: 3}, now)
	require.NoError(t, repo.Create(ctx, doc))

	stale, err := repo.FindByID(ctx, doc.ID)
	require.NoError(t, err)
	doc.ApplyStatus(payroll.StatusPreviewRequested, now)
	require.NoError(t, repo.Update(ctx, doc))
	assert.ErrorIs(t, repo.Update(ctx, stale), shared.ErrConcurrencyConflict)

	next := testDocument(t, emp, payroll.Period{Year: 2024, Month: 3}, now.Add(time.Second))
	doc.Supersede(next, now.Add(time.Second))
	require.NoError(t, repo.CreateVersion(ctx, doc, next))

	latest, err := repo.FindLatestInLineage(ctx, next.LineageKey(), false)
	require.NoError(t, err)
	assert.Equal(t, next.ID, latest.ID)

	report, err := repo.IntegrityReport(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Violations())

	require.NoError(t, trail.Append(ctx, &payroll.StatusChangeAuditRecord{
		ID: uuid.New(), DocumentID: doc.DocumentID, FromStatus: payroll.StatusCalculationPending,
		ToStatus: payroll.StatusPreviewRequested, Trigger: payroll.TriggerUserAction,
		ActorID: uuid.New(), Timestamp: now, Success: true,
	}))

	// the trail rejects mutation at the database level
	err = db.Exec("DELETE FROM status_audit_records").Error
	assert.Error(t, err)
	count, err := trail.Count(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
