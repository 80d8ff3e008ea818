package payroll_test

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/erp/payroll/internal/application/payroll"
	domain "github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (h *harness) batch(t *testing.T, cfg payroll.BatchConfig) (*payroll.BatchOrchestrator, *kvstore.InMemoryStore[domain.BatchOperation]) {
	t.Helper()
	store := kvstore.NewInMemoryStore[domain.BatchOperation](0)
	t.Cleanup(func() { _ = store.Close() })
	o := payroll.NewBatchOrchestrator(h.repo, h.engine, h.blobs, store, h.errors, cfg, zap.NewNop(),
		payroll.WithBatchClock(testClock()),
		payroll.WithBatchPublisher(h.publisher))
	return o, store
}

func marchPayslips() domain.SelectionCriteria {
	return domain.SelectionCriteria{
		DocumentTypes: []domain.DocumentType{domain.DocumentTypePayslip},
		PeriodIDs:     []string{"2024-03"},
	}
}

func TestBatchOrchestrator_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		seed     []domain.DocumentStatus
		cfg      payroll.BatchConfig
		req      payroll.BatchRequest
		wantCode domain.ErrorCode
	}{
		{
			name:     "unknown operation type",
			seed:     []domain.DocumentStatus{domain.StatusGenerated},
			req:      payroll.BatchRequest{Type: "EXPLODE", Criteria: marchPayslips(), Actor: manager},
			wantCode: domain.ErrCodeMissingRequiredField,
		},
		{
			name:     "empty criteria",
			seed:     []domain.DocumentStatus{domain.StatusGenerated},
			req:      payroll.BatchRequest{Type: domain.BatchOperationApprove, Actor: manager},
			wantCode: domain.ErrCodeInvalidBatchCriteria,
		},
		{
			name: "malformed period",
			seed: []domain.DocumentStatus{domain.StatusGenerated},
			req: payroll.BatchRequest{Type: domain.BatchOperationApprove, Actor: manager,
				Criteria: domain.SelectionCriteria{PeriodIDs: []string{"March"}}},
			wantCode: domain.ErrCodeInvalidBatchCriteria,
		},
		{
			name: "nothing matches",
			seed: []domain.DocumentStatus{domain.StatusGenerated},
			req: payroll.BatchRequest{Type: domain.BatchOperationApprove, Actor: manager,
				Criteria: domain.SelectionCriteria{PeriodIDs: []string{"2023-12"}}},
			wantCode: domain.ErrCodeInvalidBatchCriteria,
		},
		{
			name:     "selection above the limit",
			seed:     []domain.DocumentStatus{domain.StatusGenerated, domain.StatusGenerated, domain.StatusGenerated},
			cfg:      payroll.BatchConfig{MaxDocuments: 2},
			req:      payroll.BatchRequest{Type: domain.BatchOperationApprove, Criteria: marchPayslips(), Actor: manager},
			wantCode: domain.ErrCodeBatchLimitExceeded,
		},
		{
			name:     "send without recipients",
			seed:     []domain.DocumentStatus{domain.StatusApproved},
			req:      payroll.BatchRequest{Type: domain.BatchOperationSend, Criteria: marchPayslips(), Actor: manager},
			wantCode: domain.ErrCodeMissingRequiredField,
		},
		{
			name: "send with a malformed recipient",
			seed: []domain.DocumentStatus{domain.StatusApproved},
			req: payroll.BatchRequest{Type: domain.BatchOperationSend, Criteria: marchPayslips(), Actor: manager,
				Parameters: domain.BatchParameters{Recipients: []string{"not-an-address"}}},
			wantCode: domain.ErrCodeMissingRequiredField,
		},
		{
			name:     "delete needs an administrator",
			seed:     []domain.DocumentStatus{domain.StatusGenerated},
			req:      payroll.BatchRequest{Type: domain.BatchOperationDelete, Criteria: marchPayslips(), Actor: manager},
			wantCode: domain.ErrCodeInsufficientPermissions,
		},
		{
			name:     "viewer cannot run batches",
			seed:     []domain.DocumentStatus{domain.StatusGenerated},
			req:      payroll.BatchRequest{Type: domain.BatchOperationApprove, Criteria: marchPayslips(), Actor: viewer},
			wantCode: domain.ErrCodeInsufficientPermissions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for _, s := range tt.seed {
				seedDocument(t, h.repo, s)
			}
			o, store := h.batch(t, tt.cfg)

			op, werr := o.Run(ctx, tt.req)

			assert.Nil(t, op)
			require.NotNil(t, werr)
			assert.Equal(t, tt.wantCode, werr.Code)
			assert.Zero(t, store.Size())
			assert.Empty(t, h.audit.records)
		})
	}
}

func TestBatchOrchestrator_BlockedSelectionRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	generated := seedDocument(t, h.repo, domain.StatusGenerated)
	sent := seedDocument(t, h.repo, domain.StatusSent)
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:     domain.BatchOperationDelete,
		Criteria: marchPayslips(),
		Actor:    admin,
	})

	assert.Nil(t, op)
	require.NotNil(t, werr)
	assert.Equal(t, domain.ErrCodeBatchValidationFailed, werr.Code)
	assert.Equal(t, "1", werr.Details["blocked_count"])
	assert.Contains(t, werr.Details[sent.DocumentID], "SENT")
	assert.Contains(t, werr.Message, sent.DocumentID)

	assert.False(t, h.repo.get(generated.DocumentID).Deleted)
	assert.False(t, h.repo.get(sent.DocumentID).Deleted)
	assert.Empty(t, h.audit.records)
}

func TestBatchOrchestrator_ApproveCountsEveryItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var ids []string
	for range 5 {
		ids = append(ids, seedDocument(t, h.repo, domain.StatusGenerated).DocumentID)
	}
	broken := h.repo.get(ids[2])
	broken.File = nil
	h.repo.put(broken)

	o, _ := h.batch(t, payroll.BatchConfig{ChunkSize: 2, ChunkConcurrency: 2})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:       domain.BatchOperationApprove,
		Criteria:   marchPayslips(),
		Parameters: domain.BatchParameters{Comments: "March run"},
		Actor:      manager,
		RequestID:  "req-batch",
	})

	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusCompleted, op.Status)
	assert.Equal(t, 5, op.TotalDocuments)
	assert.Equal(t, 5, op.Processed)
	assert.Equal(t, 4, op.Successful)
	assert.Equal(t, 1, op.Failed)
	assert.Equal(t, op.Processed, op.Successful+op.Failed)
	require.Len(t, op.Errors, 1)
	assert.Equal(t, ids[2], op.Errors[0].DocumentID)
	assert.Equal(t, domain.ErrCodeMissingRequiredField, op.Errors[0].Error.Code)
	assert.Equal(t, op.ID.String(), op.Errors[0].Error.Context.OperationID)
	require.NotNil(t, op.CompletedAt)

	for i, id := range ids {
		doc := h.repo.get(id)
		if i == 2 {
			assert.Equal(t, domain.StatusGenerated, doc.Status)
			continue
		}
		assert.Equal(t, domain.StatusApproved, doc.Status)
		assert.Equal(t, "March run", doc.Approval.Comments)
		assert.EqualValues(t, 1, h.auditCount(id))
	}

	stored, werr := o.Get(ctx, op.ID.String())
	require.Nil(t, werr)
	assert.Equal(t, op.Successful, stored.Successful)
	assert.Contains(t, h.publisher.types(), domain.EventTypeBatchOperationCompleted)
}

func TestBatchOrchestrator_AllItemsFailing(t *testing.T) {
	h := newHarness(t)
	doc := seedDocument(t, h.repo, domain.StatusGenerated)
	stored := h.repo.get(doc.DocumentID)
	stored.File = nil
	h.repo.put(stored)
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(context.Background(), payroll.BatchRequest{
		Type:     domain.BatchOperationApprove,
		Criteria: marchPayslips(),
		Actor:    manager,
	})

	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusFailed, op.Status)
	assert.Equal(t, 1, op.Failed)
}

func TestBatchOrchestrator_AsyncRunIsPolled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for range 3 {
		seedDocument(t, h.repo, domain.StatusApproved)
	}
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:       domain.BatchOperationSend,
		Criteria:   marchPayslips(),
		Parameters: domain.BatchParameters{Recipients: []string{"payroll@example.com"}},
		Async:      true,
		Actor:      manager,
	})

	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusQueued, op.Status)
	assert.True(t, op.Async)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(waitCtx))

	final, werr := o.Get(ctx, op.ID.String())
	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 3, final.Successful)
	for _, d := range h.repo.all() {
		assert.Equal(t, domain.StatusSent, d.Status)
		assert.Equal(t, []string{"payroll@example.com"}, d.Distribution.SentTo)
	}

	_, werr = o.Cancel(ctx, op.ID.String(), manager)
	require.NotNil(t, werr)
	assert.Equal(t, domain.ErrCodeOperationNotCancellable, werr.Code)
}

func TestBatchOrchestrator_CancelQueuedOperation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o, store := h.batch(t, payroll.BatchConfig{})

	queued := domain.NewBatchOperation(domain.BatchOperationArchive, marchPayslips(), domain.BatchParameters{},
		[]string{"PAY-1"}, manager.ID, true, fixedNow)
	require.NoError(t, store.Set(ctx, queued.ID.String(), queued))

	_, werr := o.Cancel(ctx, queued.ID.String(), viewer)
	require.NotNil(t, werr)
	assert.Equal(t, domain.ErrCodeInsufficientPermissions, werr.Code)

	cancelled, werr := o.Cancel(ctx, queued.ID.String(), manager)
	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.CancelRequested)

	stored, werr := o.Get(ctx, queued.ID.String())
	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusCancelled, stored.Status)

	_, werr = o.Cancel(ctx, queued.ID.String(), manager)
	require.NotNil(t, werr)
	assert.Equal(t, domain.ErrCodeOperationNotCancellable, werr.Code)
}

func TestBatchOrchestrator_UnknownOperation(t *testing.T) {
	h := newHarness(t)
	o, _ := h.batch(t, payroll.BatchConfig{})

	for _, id := range []string{"not-a-uuid", "6f1c1c9e-3a43-4df5-9c39-5a1d3c4f2b10"} {
		_, werr := o.Get(context.Background(), id)
		require.NotNil(t, werr, id)
		assert.Equal(t, domain.ErrCodeOperationNotFound, werr.Code)
	}
}

func TestBatchOrchestrator_DeleteSoftDeletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := seedDocument(t, h.repo, domain.StatusGenerated)
	b := seedDocument(t, h.repo, domain.StatusGenerationFailed)
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:       domain.BatchOperationDelete,
		Criteria:   marchPayslips(),
		Parameters: domain.BatchParameters{Reason: "wrong period"},
		Actor:      admin,
	})

	require.Nil(t, werr)
	assert.Equal(t, 2, op.Successful)
	for _, id := range []string{a.DocumentID, b.DocumentID} {
		doc := h.repo.get(id)
		assert.True(t, doc.Deleted)
		history, _ := h.audit.History(ctx, id, 1)
		require.Len(t, history, 1)
		assert.Equal(t, "wrong period", history[0].Reason)
	}
}

func TestBatchOrchestrator_ExportBuildsArchive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var docs []*domain.PayrollDocument
	for range 2 {
		doc := seedDocument(t, h.repo, domain.StatusApproved)
		_, err := h.blobs.Put(ctx, doc.File.Path, fakePDF(2048), "application/pdf")
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:     domain.BatchOperationExport,
		Criteria: marchPayslips(),
		Actor:    manager,
	})

	require.Nil(t, werr)
	assert.Equal(t, domain.BatchStatusCompleted, op.Status)
	assert.Equal(t, 2, op.Successful)
	assert.Equal(t, "exports/"+op.ID.String()+".zip", op.ExportPath)

	data, err := h.blobs.Get(ctx, op.ExportPath)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	for _, doc := range docs {
		assert.Contains(t, names, "payslip/2024-03/"+doc.DocumentID+".pdf")
		assert.Equal(t, domain.StatusApproved, h.repo.get(doc.DocumentID).Status, "export leaves statuses untouched")
	}
	assert.Empty(t, h.audit.records)
}

func TestBatchOrchestrator_ExportMissingFileFailsItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	present := seedDocument(t, h.repo, domain.StatusGenerated)
	_, err := h.blobs.Put(ctx, present.File.Path, fakePDF(2048), "application/pdf")
	require.NoError(t, err)
	missing := seedDocument(t, h.repo, domain.StatusGenerated)
	o, _ := h.batch(t, payroll.BatchConfig{})

	op, werr := o.Run(ctx, payroll.BatchRequest{
		Type:     domain.BatchOperationExport,
		Criteria: marchPayslips(),
		Actor:    manager,
	})

	require.Nil(t, werr)
	assert.Equal(t, 1, op.Successful)
	require.Len(t, op.Errors, 1)
	assert.Equal(t, missing.DocumentID, op.Errors[0].DocumentID)
	assert.Equal(t, domain.ErrCodeStorageReadFailed, op.Errors[0].Error.Code)
	assert.NotEmpty(t, op.ExportPath)
}
