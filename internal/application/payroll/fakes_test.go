package payroll_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/erp/payroll/internal/application/payroll"
	domain "github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/kvstore"
	"github.com/erp/payroll/internal/infrastructure/rendering"
	"github.com/erp/payroll/internal/infrastructure/storage"
	"github.com/erp/payroll/internal/infrastructure/taskqueue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// In-memory document store
// =============================================================================

type memDocumentRepo struct {
	mu      sync.Mutex
	docs    map[string]*domain.PayrollDocument
	updates int
	failOn  map[string]error
	// lookupDelay widens the window between the lineage lookup and the insert
	lookupDelay time.Duration
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{docs: map[string]*domain.PayrollDocument{}, failOn: map[string]error{}}
}

func cloneDoc(doc *domain.PayrollDocument) *domain.PayrollDocument {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	var out domain.PayrollDocument
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (r *memDocumentRepo) put(doc *domain.PayrollDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.DocumentID] = cloneDoc(doc)
}

func (r *memDocumentRepo) get(documentID string) *domain.PayrollDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return nil
	}
	return cloneDoc(doc)
}

func (r *memDocumentRepo) all() []*domain.PayrollDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.PayrollDocument, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, cloneDoc(d))
	}
	slices.SortFunc(out, func(a, b *domain.PayrollDocument) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (r *memDocumentRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.PayrollDocument, error) {
	for _, d := range r.all() {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memDocumentRepo) FindByDocumentID(_ context.Context, documentID string) (*domain.PayrollDocument, error) {
	if err := r.failOn["find"]; err != nil {
		return nil, err
	}
	if doc := r.get(documentID); doc != nil {
		return doc, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memDocumentRepo) FindLatestInLineage(_ context.Context, key domain.LineageKey, includeDeleted bool) (*domain.PayrollDocument, error) {
	if r.lookupDelay > 0 {
		time.Sleep(r.lookupDelay)
	}
	for _, d := range r.all() {
		if d.LineageKey() == key && d.IsLatestVersion && !d.IsPreview() && (includeDeleted || !d.Deleted) {
			return d, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memDocumentRepo) matches(d *domain.PayrollDocument, f domain.DocumentFilter) bool {
	if d.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.LatestOnly && !d.IsLatestVersion {
		return false
	}
	if len(f.EmployeeIDs) > 0 && !slices.Contains(f.EmployeeIDs, d.EmployeeID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, d.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, d.Status) {
		return false
	}
	if len(f.Periods) > 0 && !slices.Contains(f.Periods, d.Period) {
		return false
	}
	return true
}

func (r *memDocumentRepo) FindByFilter(_ context.Context, f domain.DocumentFilter) ([]domain.PayrollDocument, error) {
	var out []domain.PayrollDocument
	for _, d := range r.all() {
		if r.matches(d, f) {
			out = append(out, *d)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memDocumentRepo) CountByFilter(ctx context.Context, f domain.DocumentFilter) (int64, error) {
	f.Limit = 0
	docs, _ := r.FindByFilter(ctx, f)
	return int64(len(docs)), nil
}

func (r *memDocumentRepo) CountByStatus(_ context.Context) (map[domain.DocumentStatus]int64, error) {
	out := map[domain.DocumentStatus]int64{}
	for _, d := range r.all() {
		if !d.Deleted {
			out[d.Status]++
		}
	}
	return out, nil
}

func (r *memDocumentRepo) Create(_ context.Context, doc *domain.PayrollDocument) error {
	if err := r.failOn["create"]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.DocumentID]; ok {
		return shared.ErrAlreadyExists
	}
	r.docs[doc.DocumentID] = cloneDoc(doc)
	return nil
}

func (r *memDocumentRepo) Update(_ context.Context, doc *domain.PayrollDocument) error {
	if err := r.failOn["update"]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[doc.DocumentID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Revision != doc.Revision {
		return shared.ErrConcurrencyConflict
	}
	doc.IncrementRevision()
	r.docs[doc.DocumentID] = cloneDoc(doc)
	r.updates++
	return nil
}

func (r *memDocumentRepo) CreateVersion(ctx context.Context, prior, next *domain.PayrollDocument) error {
	if err := r.Update(ctx, prior); err != nil {
		return err
	}
	return r.Create(ctx, next)
}

func (r *memDocumentRepo) FindQueuedPlaceholders(_ context.Context, limit int) ([]domain.PayrollDocument, error) {
	var out []domain.PayrollDocument
	for _, d := range r.all() {
		if d.IsQueuedPlaceholder() && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDocumentRepo) FindExpiredPreviews(_ context.Context, now time.Time, limit int) ([]domain.PayrollDocument, error) {
	var out []domain.PayrollDocument
	for _, d := range r.all() {
		if d.IsPreviewExpired(now) && d.File != nil && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDocumentRepo) FindDeletedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.PayrollDocument, error) {
	var out []domain.PayrollDocument
	for _, d := range r.all() {
		if d.Deleted && d.DeletedAt != nil && d.DeletedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDocumentRepo) HardDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, d := range r.docs {
		if d.ID == id {
			delete(r.docs, key)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memDocumentRepo) IntegrityReport(_ context.Context) (*domain.IntegrityReport, error) {
	report := &domain.IntegrityReport{CheckedAt: time.Now()}
	latest := map[domain.LineageKey]int{}
	for _, d := range r.all() {
		if d.Deleted {
			continue
		}
		report.TotalDocuments++
		if d.Amounts.NetSalary.GreaterThan(d.Amounts.GrossSalary) {
			report.NetAboveGross++
		}
		if d.IsLatestVersion && !d.IsPreview() {
			latest[d.LineageKey()]++
		}
		if d.Status.HasFinalFile() && d.File == nil {
			report.MissingFiles++
		}
	}
	for _, n := range latest {
		if n > 1 {
			report.MultipleLatestVersions++
		}
	}
	return report, nil
}

func (r *memDocumentRepo) Ping(_ context.Context) error {
	return r.failOn["ping"]
}

// =============================================================================
// In-memory audit trail
// =============================================================================

type memAuditTrail struct {
	mu      sync.Mutex
	records []domain.StatusChangeAuditRecord
	fail    error
}

func (a *memAuditTrail) Append(_ context.Context, record *domain.StatusChangeAuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.records = append(a.records, *record)
	return nil
}

func (a *memAuditTrail) History(_ context.Context, documentID string, limit int) ([]domain.StatusChangeAuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.StatusChangeAuditRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		if a.records[i].DocumentID == documentID {
			out = append(out, a.records[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *memAuditTrail) Count(_ context.Context, documentID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, r := range a.records {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (a *memAuditTrail) CountSince(_ context.Context, since time.Time) (int64, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var failed, total int64
	for _, r := range a.records {
		if r.Timestamp.Before(since) {
			continue
		}
		total++
		if !r.Success {
			failed++
		}
	}
	return failed, total, nil
}

// =============================================================================
// Employees, blobs and rendering
// =============================================================================

type memEmployees map[uuid.UUID]*domain.Employee

func (m memEmployees) FindByID(_ context.Context, id uuid.UUID) (*domain.Employee, error) {
	e, ok := m[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

type memBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putFails int
	capacity int64
	provider string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, provider: "memory"}
}

func (b *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (*storage.PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putFails > 0 {
		b.putFails--
		return nil, &storage.StorageError{Code: storage.ErrCodeWrite, Op: "put", Key: key, Err: errors.New("disk full")}
	}
	b.objects[key] = bytes.Clone(data)
	return &storage.PutResult{
		Key:         key,
		URL:         "mem://" + key,
		Size:        int64(len(data)),
		Checksum:    storage.Checksum(data),
		ContentType: contentType,
		StoredAt:    time.Now(),
	}, nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBlobs) Usage(_ context.Context) (*storage.Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := &storage.Usage{CapacityBytes: b.capacity, Objects: int64(len(b.objects))}
	for _, d := range b.objects {
		u.UsedBytes += int64(len(d))
	}
	return u, nil
}

func (b *memBlobs) Ping(_ context.Context) error { return nil }

func (b *memBlobs) Provider() string { return b.provider }

func (b *memBlobs) has(key string) bool {
	ok, _ := b.Exists(context.Background(), key)
	return ok
}

func fakePDF(size int) []byte {
	data := make([]byte, size)
	copy(data, "%PDF-1.7\n")
	for i := len("%PDF-1.7\n"); i < size; i++ {
		data[i] = 'x'
	}
	return data
}

// stubRenderer returns a fixed PDF, or blocks until release is closed when set
type stubRenderer struct {
	mu      sync.Mutex
	calls   int
	pdf     []byte
	err     error
	release chan struct{}
	started chan struct{}
	lastReq *rendering.DocumentRenderRequest
}

func (r *stubRenderer) RenderDocument(ctx context.Context, req *rendering.DocumentRenderRequest) (*rendering.RenderResult, error) {
	r.mu.Lock()
	r.calls++
	r.lastReq = req
	release, started := r.release, r.started
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	pdf := r.pdf
	if pdf == nil {
		pdf = fakePDF(4096)
	}
	return &rendering.RenderResult{PDFData: pdf, PageCount: 1}, nil
}

func (r *stubRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// MockRenderer is used where failures are injected call by call
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) RenderDocument(ctx context.Context, req *rendering.DocumentRenderRequest) (*rendering.RenderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rendering.RenderResult), args.Error(1)
}

// MockPublisher records published events
type MockPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *MockPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *MockPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// =============================================================================
// Fixtures
// =============================================================================

var (
	fixedNow = time.Date(2024, 3, 28, 10, 0, 0, 0, time.UTC)

	manager = domain.Actor{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Email: "manager@example.com", Roles: []domain.Role{domain.RolePayrollManager}}
	admin   = domain.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Email: "admin@example.com", Roles: []domain.Role{domain.RolePayrollAdmin}}
	viewer  = domain.Actor{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Email: "viewer@example.com"}
)

func testClock() func() time.Time {
	var mu sync.Mutex
	t := fixedNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func activeEmployee() *domain.Employee {
	hired := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Employee{
		ID:          uuid.New(),
		Code:        "EMP042",
		FirstName:   "Amina",
		LastName:    "Benali",
		Email:       "amina.benali@example.com",
		Active:      true,
		CNSSNumber:  "123456789",
		BankName:    "Attijariwafa",
		BankAccount: "007780000123456789012345",
		HireDate:    &hired,
	}
}

func amounts(gross, net string) domain.PayrollAmounts {
	return domain.PayrollAmounts{
		GrossSalary: decimal.RequireFromString(gross),
		NetSalary:   decimal.RequireFromString(net),
	}
}

// seedDocument stores a document already in status
func seedDocument(t *testing.T, repo *memDocumentRepo, status domain.DocumentStatus) *domain.PayrollDocument {
	t.Helper()
	doc, err := domain.NewPayrollDocument(domain.NewDocumentParams{
		Type:      domain.DocumentTypePayslip,
		Employee:  activeEmployee(),
		Period:    domain.Period{Year: 2024, Month: 3},
		Amounts:   amounts("15000", "14537.68"),
		CreatedBy: manager.ID,
		Now:       fixedNow,
	})
	require.NoError(t, err)
	doc.Status = status
	if status.HasFinalFile() {
		doc.File = &domain.FileMetadata{Provider: "memory", Path: "documents/payslip/2024-03/" + doc.DocumentID + ".pdf", Size: 4096, MimeType: "application/pdf"}
	}
	repo.put(doc)
	return doc
}

type harness struct {
	repo      *memDocumentRepo
	audit     *memAuditTrail
	employees memEmployees
	blobs     *memBlobs
	renderer  *stubRenderer
	publisher *MockPublisher
	errors    *payroll.ErrorHandler
	engine    *payroll.TransitionEngine
	logger    *zap.Logger // pipeline logger, nop when nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      newMemDocumentRepo(),
		audit:     &memAuditTrail{},
		employees: memEmployees{},
		blobs:     newMemBlobs(),
		renderer:  &stubRenderer{},
		publisher: &MockPublisher{},
	}
	clock := testClock()
	h.errors = payroll.NewErrorHandler(payroll.AlertConfig{}, h.publisher, zap.NewNop(), payroll.WithErrorClock(clock))
	h.engine = payroll.NewTransitionEngine(h.repo, h.audit, h.errors, payroll.TransitionEngineConfig{}, zap.NewNop(),
		payroll.WithEngineClock(clock), payroll.WithEnginePublisher(h.publisher))
	return h
}

func (h *harness) addEmployee(e *domain.Employee) *domain.Employee {
	h.employees[e.ID] = e
	return e
}

func (h *harness) pipeline(t *testing.T, cfg payroll.GenerationConfig, opts ...payroll.GenerationOption) *payroll.GenerationPipeline {
	t.Helper()
	store := newTaskStore(t)
	opts = append([]payroll.GenerationOption{
		payroll.WithGenerationClock(testClock()),
		payroll.WithGenerationSleeper(func(context.Context, time.Duration) error { return nil }),
		payroll.WithGenerationPublisher(h.publisher),
	}, opts...)
	logger := h.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return payroll.NewGenerationPipeline(h.repo, h.employees, h.engine, h.renderer, h.blobs, store, h.errors, cfg, logger, opts...)
}

func newTaskStore(t *testing.T) *kvstore.InMemoryStore[taskqueue.Task] {
	t.Helper()
	store := kvstore.NewInMemoryStore[taskqueue.Task](0)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (h *harness) auditCount(documentID string) int64 {
	n, _ := h.audit.Count(context.Background(), documentID)
	return n
}
