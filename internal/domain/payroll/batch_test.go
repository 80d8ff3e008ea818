package payroll

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionCriteria_ToFilter(t *testing.T) {
	_, err := SelectionCriteria{}.ToFilter()
	assert.True(t, IsCode(err, ErrCodeInvalidBatchCriteria))

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	filter, err := SelectionCriteria{
		DocumentTypes: []DocumentType{DocumentTypePayslip},
		PeriodIDs:     []string{"2024-02"},
		Tags:          []string{" Bonus ", "bonus"},
		DateFrom:      &from,
		DateTo:        &to,
	}.ToFilter()
	require.NoError(t, err)
	assert.Equal(t, []Period{{Year: 2024, Month: 2}}, filter.Periods)
	assert.Equal(t, []string{"bonus"}, filter.Tags)
	assert.False(t, filter.IncludeDeleted)

	_, err = SelectionCriteria{DateFrom: &to, DateTo: &from}.ToFilter()
	assert.True(t, IsCode(err, ErrCodeInvalidBatchCriteria))

	_, err = SelectionCriteria{Statuses: []DocumentStatus{"LOST"}}.ToFilter()
	assert.True(t, IsCode(err, ErrCodeInvalidBatchCriteria))

	_, err = SelectionCriteria{PeriodIDs: []string{"24-99"}}.ToFilter()
	assert.True(t, IsCode(err, ErrCodeInvalidBatchCriteria))
}

func TestBatchOperationType_Blocker(t *testing.T) {
	doc := &PayrollDocument{Status: StatusGenerated, File: &FileMetadata{Path: "a.pdf"}}

	assert.Empty(t, BatchOperationApprove.Blocker(doc))
	assert.NotEmpty(t, BatchOperationSend.Blocker(doc))
	assert.Empty(t, BatchOperationArchive.Blocker(doc))
	assert.Empty(t, BatchOperationDelete.Blocker(doc))
	assert.Empty(t, BatchOperationExport.Blocker(doc))

	doc.Status = StatusSent
	assert.NotEmpty(t, BatchOperationDelete.Blocker(doc))
	doc.Status = StatusArchived
	assert.NotEmpty(t, BatchOperationDelete.Blocker(doc))
	assert.NotEmpty(t, BatchOperationArchive.Blocker(doc))

	doc.Status = StatusGenerated
	doc.Deleted = true
	assert.NotEmpty(t, BatchOperationExport.Blocker(doc))
}

func TestBatchOperation_CountersAndTerminalStatus(t *testing.T) {
	now := time.Now()
	ids := []string{"a", "b", "c"}

	tests := []struct {
		name     string
		failures int
		want     BatchStatus
	}{
		{"all succeed", 0, BatchStatusCompleted},
		{"partial failure", 1, BatchStatusCompleted},
		{"all fail", 3, BatchStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewBatchOperation(BatchOperationApprove, SelectionCriteria{PeriodIDs: []string{"2024-01"}}, BatchParameters{}, ids, uuid.New(), false, now)
			require.NoError(t, op.Start(now))
			for i, id := range ids {
				if i < tt.failures {
					op.RecordFailure(id, NewWorkflowError(ErrCodeInvalidStatusTransition, "no"), now)
				} else {
					op.RecordSuccess(BatchItemResult{DocumentID: id, NewStatus: StatusApproved, ProcessedAt: now})
				}
			}
			op.Complete(now)

			assert.Equal(t, tt.want, op.Status)
			assert.Equal(t, op.TotalDocuments, op.Processed)
			assert.Equal(t, op.Processed, op.Successful+op.Failed)
			assert.Len(t, op.Errors, tt.failures)
			assert.True(t, op.Status.IsTerminal())
		})
	}
}

func TestBatchOperation_Cancel(t *testing.T) {
	now := time.Now()
	op := NewBatchOperation(BatchOperationArchive, SelectionCriteria{PeriodIDs: []string{"2024"}}, BatchParameters{}, []string{"a"}, uuid.New(), true, now)

	require.NoError(t, op.Cancel(now))
	assert.Equal(t, BatchStatusCancelled, op.Status)
	assert.True(t, op.CancelRequested)
	assert.True(t, IsCode(op.Start(now), ErrCodeOperationNotCancellable))

	running := NewBatchOperation(BatchOperationArchive, SelectionCriteria{PeriodIDs: []string{"2024"}}, BatchParameters{}, []string{"a"}, uuid.New(), true, now)
	require.NoError(t, running.Start(now))
	assert.True(t, IsCode(running.Cancel(now), ErrCodeOperationNotCancellable))
}
