package payroll

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const batchComponent = "batch_orchestrator"

// BatchRequest asks for one batch operation
type BatchRequest struct {
	Type       payroll.BatchOperationType `json:"operation_type" validate:"required,oneof=APPROVE SEND ARCHIVE DELETE EXPORT"`
	Criteria   payroll.SelectionCriteria  `json:"criteria"`
	Parameters payroll.BatchParameters    `json:"parameters"`
	Async      bool                       `json:"async"`
	Actor      payroll.Actor              `json:"-"`
	RequestID  string                     `json:"-"`
}

// BatchConfig holds the orchestrator limits
type BatchConfig struct {
	MaxDocuments     int
	ChunkSize        int
	ChunkConcurrency int
	StoreTimeout     time.Duration
	StorageTimeout   time.Duration
}

// BatchOrchestrator validates, runs and tracks batch operations over a selection
// of documents. Operation state lives in a keyed store so it can be polled from
// any instance.
type BatchOrchestrator struct {
	repo      payroll.DocumentRepository
	engine    *TransitionEngine
	blobs     storage.BlobStorage
	store     shared.KeyedStore[payroll.BatchOperation]
	errors    *ErrorHandler
	publisher shared.EventPublisher
	recorder  MetricsRecorder
	cfg       BatchConfig
	logger    *zap.Logger
	now       func() time.Time

	locks keyedLocks[uuid.UUID]
	wg    sync.WaitGroup
}

// BatchOption configures a BatchOrchestrator
type BatchOption func(*BatchOrchestrator)

// WithBatchClock replaces the time source
func WithBatchClock(now func() time.Time) BatchOption {
	return func(o *BatchOrchestrator) { o.now = now }
}

// WithBatchRecorder sets the metrics recorder
func WithBatchRecorder(r MetricsRecorder) BatchOption {
	return func(o *BatchOrchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithBatchPublisher sets the domain event publisher
func WithBatchPublisher(p shared.EventPublisher) BatchOption {
	return func(o *BatchOrchestrator) { o.publisher = p }
}

// NewBatchOrchestrator creates a BatchOrchestrator
func NewBatchOrchestrator(
	repo payroll.DocumentRepository,
	engine *TransitionEngine,
	blobs storage.BlobStorage,
	store shared.KeyedStore[payroll.BatchOperation],
	errorHandler *ErrorHandler,
	cfg BatchConfig,
	logger *zap.Logger,
	opts ...BatchOption,
) *BatchOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 1000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 5
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 10 * time.Second
	}
	if errorHandler == nil {
		errorHandler = NewErrorHandler(AlertConfig{}, nil, logger)
	}
	o := &BatchOrchestrator{
		repo:     repo,
		engine:   engine,
		blobs:    blobs,
		store:    store,
		errors:   errorHandler,
		recorder: noopRecorder{},
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ==================== Run ====================

// Run validates the request and executes it. Async operations are returned
// QUEUED and run in the background; sync operations are returned terminal.
func (o *BatchOrchestrator) Run(ctx context.Context, req BatchRequest) (*payroll.BatchOperation, *payroll.WorkflowError) {
	ctx, span := telemetry.StartSpan(ctx, batchComponent, "run",
		telemetry.AttrBatchType.String(string(req.Type)))

	op, werr := o.prepare(ctx, req)
	if werr != nil {
		werr = o.errors.Handle(ctx, werr,
			payroll.WithOperation("batch_"+strings.ToLower(string(req.Type)), batchComponent),
			payroll.WithActor(req.Actor.ID.String()),
			payroll.WithRequestID(req.RequestID))
		telemetry.EndSpan(span, werr)
		return nil, werr
	}
	telemetry.EndSpan(span, nil)

	o.logger.Info("Batch operation accepted",
		zap.String("operation_id", op.ID.String()),
		zap.String("type", string(op.Type)),
		zap.Int("documents", op.TotalDocuments),
		zap.Bool("async", op.Async))

	if req.Async {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.execute(context.WithoutCancel(ctx), op.ID, req.Actor, req.RequestID)
		}()
		return op, nil
	}

	final := o.execute(ctx, op.ID, req.Actor, req.RequestID)
	if final == nil {
		return o.Get(ctx, op.ID.String())
	}
	return final, nil
}

// prepare runs every pre-execution check and stores the QUEUED operation
func (o *BatchOrchestrator) prepare(ctx context.Context, req BatchRequest) (*payroll.BatchOperation, *payroll.WorkflowError) {
	if !canOperate(req.Actor) {
		return nil, permissionError(req.Actor, "batch_operation")
	}
	if req.Type == payroll.BatchOperationDelete && !req.Actor.IsAdmin() {
		return nil, permissionError(req.Actor, "batch_delete")
	}
	if werr := validateRequest(&req, batchFieldCode); werr != nil {
		return nil, werr
	}
	filter, err := req.Criteria.ToFilter()
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeInvalidBatchCriteria)
	}
	if req.Type == payroll.BatchOperationSend && len(cleanRecipients(req.Parameters.Recipients)) == 0 {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField, "sending documents requires at least one recipient",
			payroll.WithField("parameters.recipients", "at least one recipient", "[]"))
	}

	qctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	count, err := o.repo.CountByFilter(qctx, filter)
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	if count == 0 {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeInvalidBatchCriteria, "no documents match the selection criteria")
	}
	if count > int64(o.cfg.MaxDocuments) {
		return nil, payroll.NewWorkflowError(payroll.ErrCodeBatchLimitExceeded,
			fmt.Sprintf("selection matches %d documents, the limit is %d", count, o.cfg.MaxDocuments),
			payroll.WithField("criteria", fmt.Sprintf("<= %d documents", o.cfg.MaxDocuments), count))
	}

	filter.Limit = o.cfg.MaxDocuments
	docs, err := o.repo.FindByFilter(qctx, filter)
	if err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}

	ids := make([]string, 0, len(docs))
	var blocked []string
	opts := []payroll.ErrorOption{}
	for i := range docs {
		doc := &docs[i]
		if reason := req.Type.Blocker(doc); reason != "" {
			blocked = append(blocked, doc.DocumentID)
			opts = append(opts, payroll.WithDetail(doc.DocumentID, reason))
			continue
		}
		ids = append(ids, doc.DocumentID)
	}
	if len(blocked) > 0 {
		opts = append(opts, payroll.WithDetail("blocked_count", fmt.Sprint(len(blocked))))
		return nil, payroll.NewWorkflowError(payroll.ErrCodeBatchValidationFailed,
			fmt.Sprintf("%d of %d selected documents cannot be processed by %s, first blocker is %s",
				len(blocked), len(docs), req.Type, blocked[0]),
			opts...)
	}

	op := payroll.NewBatchOperation(req.Type, req.Criteria, req.Parameters, ids, req.Actor.ID, req.Async, o.now())
	if err := o.save(ctx, op); err != nil {
		return nil, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	return op, nil
}

func batchFieldCode(field string) payroll.ErrorCode {
	if strings.HasPrefix(field, "criteria") {
		return payroll.ErrCodeInvalidBatchCriteria
	}
	return payroll.ErrCodeMissingRequiredField
}

// ==================== Execution ====================

type batchRun struct {
	op        *payroll.BatchOperation
	actor     payroll.Actor
	requestID string
	archive   *exportArchive
}

// execute moves the operation through RUNNING to its terminal status.
// It returns nil when the operation was cancelled or could not be loaded.
func (o *BatchOrchestrator) execute(ctx context.Context, id uuid.UUID, actor payroll.Actor, requestID string) *payroll.BatchOperation {
	unlock := o.lock(id)
	op, err := o.load(ctx, id)
	if err != nil {
		unlock()
		o.logger.Error("Failed to load batch operation", zap.String("operation_id", id.String()), zap.Error(err))
		return nil
	}
	if op.Status != payroll.BatchStatusQueued {
		unlock()
		o.logger.Info("Batch operation not started", zap.String("operation_id", id.String()), zap.String("status", string(op.Status)))
		return nil
	}
	_ = op.Start(o.now())
	o.saveLogged(ctx, op)
	unlock()

	run := &batchRun{op: op, actor: actor, requestID: requestID}
	if op.Type == payroll.BatchOperationExport {
		run.archive = newExportArchive()
	}

	var mu sync.Mutex
	for start := 0; start < len(op.DocumentIDs); start += o.cfg.ChunkSize {
		end := min(start+o.cfg.ChunkSize, len(op.DocumentIDs))
		chunk := op.DocumentIDs[start:end]

		if ctx.Err() != nil {
			o.cancelRemaining(ctx, run, &mu, chunk)
			continue
		}

		g := new(errgroup.Group)
		g.SetLimit(o.cfg.ChunkConcurrency)
		for _, documentID := range chunk {
			g.Go(func() error {
				var (
					item payroll.BatchItemResult
					werr *payroll.WorkflowError
				)
				if ctx.Err() != nil {
					werr = payroll.NewWorkflowError(payroll.ErrCodeOperationCancelled, "batch context ended before the item started")
				} else {
					item, werr = o.processItem(ctx, run, documentID)
				}
				o.recordItem(ctx, run, &mu, documentID, item, werr)
				return nil
			})
		}
		_ = g.Wait()
	}

	if run.archive != nil {
		o.finishExport(ctx, run, &mu)
	}

	unlock = o.lock(id)
	op.Complete(o.now())
	o.saveLogged(ctx, op)
	unlock()

	o.recorder.RecordBatchFinished(ctx, string(op.Type), string(op.Status))
	o.logger.Info("Batch operation finished",
		zap.String("operation_id", op.ID.String()),
		zap.String("summary", op.Summary()))
	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, payroll.NewBatchOperationCompletedEvent(op, o.now())); err != nil {
			o.logger.Warn("Failed to publish domain event", zap.Error(err))
		}
	}
	return op
}

func (o *BatchOrchestrator) cancelRemaining(ctx context.Context, run *batchRun, mu *sync.Mutex, documentIDs []string) {
	for _, documentID := range documentIDs {
		werr := payroll.NewWorkflowError(payroll.ErrCodeOperationCancelled, "batch context ended before the item started")
		o.recordItem(ctx, run, mu, documentID, payroll.BatchItemResult{}, werr)
	}
}

// recordItem counts one outcome and saves progress
func (o *BatchOrchestrator) recordItem(ctx context.Context, run *batchRun, mu *sync.Mutex, documentID string, item payroll.BatchItemResult, werr *payroll.WorkflowError) {
	at := o.now()
	mu.Lock()
	defer mu.Unlock()
	if werr != nil {
		werr.Apply(payroll.WithDocument(documentID), payroll.WithOperation("batch_item", batchComponent))
		werr.Context.OperationID = run.op.ID.String()
		run.op.RecordFailure(documentID, werr, at)
	} else {
		item.DocumentID = documentID
		item.ProcessedAt = at
		run.op.RecordSuccess(item)
	}
	o.recorder.RecordBatchItem(ctx, string(run.op.Type), werr == nil)

	unlock := o.lock(run.op.ID)
	o.saveLogged(ctx, run.op)
	unlock()
}

// processItem dispatches one document to the handler of the operation type
func (o *BatchOrchestrator) processItem(ctx context.Context, run *batchRun, documentID string) (payroll.BatchItemResult, *payroll.WorkflowError) {
	op := run.op
	reason := op.Parameters.Reason
	if reason == "" {
		reason = fmt.Sprintf("batch %s %s", strings.ToLower(string(op.Type)), op.ID)
	}

	switch op.Type {
	case payroll.BatchOperationApprove, payroll.BatchOperationSend, payroll.BatchOperationArchive:
		target, _ := op.Type.TargetStatus()
		res := o.engine.Transition(ctx, TransitionRequest{
			DocumentID: documentID,
			Target:     target,
			Actor:      run.actor,
			Trigger:    payroll.TriggerUserAction,
			Reason:     reason,
			Comments:   op.Parameters.Comments,
			Recipients: op.Parameters.Recipients,
			RequestID:  run.requestID,
		})
		if !res.Success {
			return payroll.BatchItemResult{}, res.Error
		}
		return payroll.BatchItemResult{NewStatus: res.NewStatus}, nil

	case payroll.BatchOperationDelete:
		res := o.engine.SoftDelete(ctx, documentID, run.actor, reason, run.requestID)
		if !res.Success {
			return payroll.BatchItemResult{}, res.Error
		}
		return payroll.BatchItemResult{NewStatus: res.NewStatus, Detail: "deleted"}, nil

	case payroll.BatchOperationExport:
		entry, werr := o.exportItem(ctx, run, documentID)
		if werr != nil {
			return payroll.BatchItemResult{}, werr
		}
		return payroll.BatchItemResult{Detail: entry}, nil
	}
	return payroll.BatchItemResult{}, payroll.NewWorkflowError(payroll.ErrCodeInvalidBatchCriteria,
		"unsupported batch operation", payroll.WithField("operation_type", nil, op.Type))
}

// ==================== Export ====================

// exportArchive spools document files into a zip in a temporary file. The
// file is created on the first add.
type exportArchive struct {
	mu   sync.Mutex
	file *os.File
	zw   *zip.Writer
}

func newExportArchive() *exportArchive {
	return &exportArchive{}
}

func (a *exportArchive) add(name string, data []byte, modified time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		f, err := os.CreateTemp("", "payroll-export-*.zip")
		if err != nil {
			return err
		}
		a.file = f
		a.zw = zip.NewWriter(f)
	}
	w, err := a.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// close finishes the zip and returns the spool file, nil when nothing was added
func (a *exportArchive) close() (*os.File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zw == nil {
		return nil, nil
	}
	if err := a.zw.Close(); err != nil {
		return nil, err
	}
	return a.file, nil
}

// discard removes the spool file
func (a *exportArchive) discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	_ = a.file.Close()
	_ = os.Remove(a.file.Name())
	a.file, a.zw = nil, nil
}

func (o *BatchOrchestrator) exportItem(ctx context.Context, run *batchRun, documentID string) (string, *payroll.WorkflowError) {
	qctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	doc, err := o.repo.FindByDocumentID(qctx, documentID)
	cancel()
	if errors.Is(err, shared.ErrNotFound) {
		return "", payroll.NewWorkflowError(payroll.ErrCodeDocumentNotFound, "document not found")
	}
	if err != nil {
		return "", payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed)
	}
	if doc.File == nil {
		return "", payroll.NewWorkflowError(payroll.ErrCodeStorageReadFailed, "document has no stored file")
	}

	sctx, cancel := withTimeout(ctx, o.cfg.StorageTimeout)
	data, err := o.blobs.Get(sctx, doc.File.Path)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", payroll.NewWorkflowError(payroll.ErrCodeTimeoutExceeded, "storage read timed out", payroll.WithCause(err))
		}
		return "", payroll.NewWorkflowError(payroll.ErrCodeStorageReadFailed, "failed to read document file", payroll.WithCause(err))
	}

	entry := fmt.Sprintf("%s/%s/%s.pdf", strings.ToLower(string(doc.Type)), doc.Period.ID(), doc.DocumentID)
	if err := run.archive.add(entry, data, o.now()); err != nil {
		return "", payroll.NewWorkflowError(payroll.ErrCodeInternal, "failed to add file to export archive", payroll.WithCause(err))
	}
	return entry, nil
}

// finishExport uploads the archive. When the upload fails every exported item
// is reported as failed.
func (o *BatchOrchestrator) finishExport(ctx context.Context, run *batchRun, mu *sync.Mutex) {
	defer run.archive.discard()
	mu.Lock()
	defer mu.Unlock()
	op := run.op
	if op.Successful == 0 {
		return
	}

	f, err := run.archive.close()
	if err == nil && f == nil {
		err = errors.New("export archive is empty")
	}
	key := fmt.Sprintf("exports/%s.zip", op.ID)
	if err == nil {
		sctx, cancel := withTimeout(ctx, o.cfg.StorageTimeout)
		_, err = storage.PutFile(sctx, o.blobs, key, f, "application/zip")
		cancel()
	}
	if err == nil {
		op.ExportPath = key
		return
	}

	werr := o.errors.Handle(ctx, storageFailure(err),
		payroll.WithOperation("batch_export", batchComponent))
	exported := op.Results
	op.Results = []payroll.BatchItemResult{}
	op.Processed -= op.Successful
	op.Successful = 0
	at := o.now()
	for _, r := range exported {
		itemErr := payroll.NewWorkflowError(werr.Code, "export archive could not be stored",
			payroll.WithCause(err), payroll.WithDocument(r.DocumentID))
		op.RecordFailure(r.DocumentID, itemErr, at)
	}
}

// ==================== Query and cancel ====================

// Get returns the current state of an operation
func (o *BatchOrchestrator) Get(ctx context.Context, operationID string) (*payroll.BatchOperation, *payroll.WorkflowError) {
	id, err := uuid.Parse(operationID)
	if err != nil {
		return nil, operationNotFound(operationID)
	}
	op, err := o.load(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, operationNotFound(operationID)
	}
	if err != nil {
		return nil, o.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed),
			payroll.WithOperation("batch_status", batchComponent))
	}
	return op, nil
}

// Cancel cancels a QUEUED operation
func (o *BatchOrchestrator) Cancel(ctx context.Context, operationID string, actor payroll.Actor) (*payroll.BatchOperation, *payroll.WorkflowError) {
	if !canOperate(actor) {
		return nil, o.errors.Handle(ctx, permissionError(actor, "batch_cancel"))
	}
	id, err := uuid.Parse(operationID)
	if err != nil {
		return nil, operationNotFound(operationID)
	}

	unlock := o.lock(id)
	defer unlock()
	op, err := o.load(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, operationNotFound(operationID)
	}
	if err != nil {
		return nil, o.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed))
	}
	if err := op.Cancel(o.now()); err != nil {
		return nil, o.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeOperationNotCancellable),
			payroll.WithOperation("batch_cancel", batchComponent),
			payroll.WithActor(actor.ID.String()))
	}
	if err := o.save(ctx, op); err != nil {
		return nil, o.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed))
	}
	o.recorder.RecordBatchFinished(ctx, string(op.Type), string(op.Status))
	o.logger.Info("Batch operation cancelled",
		zap.String("operation_id", op.ID.String()),
		zap.String("actor_id", actor.ID.String()))
	return op, nil
}

// Wait blocks until background operations finish or ctx ends
func (o *BatchOrchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func operationNotFound(operationID string) *payroll.WorkflowError {
	return payroll.NewWorkflowError(payroll.ErrCodeOperationNotFound, "batch operation not found",
		payroll.WithDetail("operation_id", operationID))
}

func (o *BatchOrchestrator) lock(id uuid.UUID) func() {
	return o.locks.lock(id)
}

func (o *BatchOrchestrator) load(ctx context.Context, id uuid.UUID) (*payroll.BatchOperation, error) {
	qctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	return o.store.Get(qctx, id.String())
}

func (o *BatchOrchestrator) save(ctx context.Context, op *payroll.BatchOperation) error {
	qctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.store.Set(qctx, op.ID.String(), op); err != nil {
		return fmt.Errorf("failed to save batch operation: %w", err)
	}
	return nil
}

func (o *BatchOrchestrator) saveLogged(ctx context.Context, op *payroll.BatchOperation) {
	if err := o.save(context.WithoutCancel(ctx), op); err != nil {
		o.logger.Error("Failed to save batch progress",
			zap.String("operation_id", op.ID.String()),
			zap.Error(err))
	}
}
