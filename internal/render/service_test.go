package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/renderowl/backend/internal/ledger"
	"github.com/renderowl/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for Store, Ledger, DeadLetters, Events, and Stats.
// These let us test the real admission and lifecycle logic without a
// database or a queue backend.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct {
	committed *bool
}

func (t noopTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t noopTx) Commit(context.Context) error {
	if t.committed != nil {
		*t.committed = true
	}
	return nil
}
func (noopTx) Rollback(context.Context) error { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- Store mock ---

type mockStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.RenderJob
	riverIDs  map[string]int64
	committed bool
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]*models.RenderJob), riverIDs: make(map[string]int64)}
}

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) {
	return noopTx{committed: &m.committed}, nil
}

func (m *mockStore) CreateTx(_ context.Context, _ pgx.Tx, j *models.RenderJob, riverJobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	m.riverIDs[j.ID] = riverJobID
	return nil
}

func (m *mockStore) GetByID(_ context.Context, jobID string) (*models.RenderJob, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, 0, ErrJobNotFound
	}
	cp := *j
	return &cp, m.riverIDs[jobID], nil
}

func (m *mockStore) ListByProject(_ context.Context, projectID uuid.UUID, _ int) ([]*models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RenderJob
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ClaimProcessing(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || (j.Status != models.JobStatusQueued && j.Status != models.JobStatusProcessing) {
		return false, nil
	}
	j.Status = models.JobStatusProcessing
	return true, nil
}

func (m *mockStore) MarkCompleted(_ context.Context, jobID, outputURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = models.JobStatusCompleted
	j.OutputURL = outputURL
	return nil
}

func (m *mockStore) MarkFailed(_ context.Context, jobID string, jobErr models.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = models.JobStatusFailed
	cp := jobErr
	j.Error = &cp
	return nil
}

func (m *mockStore) CancelIfWaiting(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.Status != models.JobStatusPending && j.Status != models.JobStatusQueued {
		return false, nil
	}
	j.Status = models.JobStatusCancelled
	return true, nil
}

func (m *mockStore) RequeueFailedTx(_ context.Context, _ pgx.Tx, jobID string, riverJobID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != models.JobStatusFailed {
		return false, nil
	}
	j.Status = models.JobStatusQueued
	j.Error = nil
	j.OutputURL = ""
	m.riverIDs[jobID] = riverJobID
	return true, nil
}

func (m *mockStore) status(jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.Status
	}
	return ""
}

// --- Ledger mock ---

type mockLedger struct {
	mu         sync.Mutex
	balances   map[uuid.UUID]int
	deductions map[uuid.UUID]*models.CreditTransaction
	refunds    []*models.CreditTransaction
	refundErr  error
}

func newMockLedger(userID uuid.UUID, balance int) *mockLedger {
	return &mockLedger{
		balances:   map[uuid.UUID]int{userID: balance},
		deductions: make(map[uuid.UUID]*models.CreditTransaction),
	}
}

func (m *mockLedger) DeductTx(_ context.Context, _ pgx.Tx, userID, orgID uuid.UUID, amount int, jobID, jobType, description string) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[userID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	if bal < amount {
		return nil, ledger.ErrInsufficientCredits
	}
	m.balances[userID] = bal - amount
	ct := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		OrgID:        orgID,
		Type:         models.CreditTxDeduction,
		Amount:       -amount,
		BalanceAfter: bal - amount,
		Status:       models.CreditTxCompleted,
		JobID:        &jobID,
	}
	m.deductions[ct.ID] = ct
	return ct, nil
}

func (m *mockLedger) Refund(_ context.Context, originalTxID uuid.UUID, reason, description string) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	orig, ok := m.deductions[originalTxID]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	if orig.Status == models.CreditTxReversed {
		return nil, ledger.ErrAlreadyRefunded
	}
	orig.Status = models.CreditTxReversed
	amount := -orig.Amount
	m.balances[orig.UserID] += amount
	ct := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       orig.UserID,
		OrgID:        orig.OrgID,
		Type:         models.CreditTxRefund,
		Amount:       amount,
		BalanceAfter: m.balances[orig.UserID],
		Status:       models.CreditTxCompleted,
	}
	m.refunds = append(m.refunds, ct)
	return ct, nil
}

func (m *mockLedger) balance(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *mockLedger) deductionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deductions)
}

func (m *mockLedger) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

// --- DeadLetters mock ---

type deadEntry struct {
	JobID         string
	Queue         string
	Code          string
	RefundPending bool
}

type mockDeadLetters struct {
	mu      sync.Mutex
	entries []deadEntry
}

func (m *mockDeadLetters) Insert(_ context.Context, jobID, queueName, errCode, errMessage string, payload json.RawMessage, refundPending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, deadEntry{JobID: jobID, Queue: queueName, Code: errCode, RefundPending: refundPending})
	return nil
}

func (m *mockDeadLetters) all() []deadEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]deadEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// --- Events mock ---

type published struct {
	EventType string
	URL       string // empty for registry fan-out
}

type mockEvents struct {
	mu     sync.Mutex
	events []published
}

func (m *mockEvents) Publish(_ context.Context, _ uuid.UUID, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{EventType: eventType})
}

func (m *mockEvents) PublishDirect(_ context.Context, url string, _ uuid.UUID, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{EventType: eventType, URL: url})
}

func (m *mockEvents) byType(eventType string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Stats mock ---

type mockStats struct {
	mu                          sync.Mutex
	submitted, completed        int
	failedPermanent, refunded   int
	compensationFailures        int
}

func (m *mockStats) JobSubmitted()       { m.mu.Lock(); m.submitted++; m.mu.Unlock() }
func (m *mockStats) JobCompleted()       { m.mu.Lock(); m.completed++; m.mu.Unlock() }
func (m *mockStats) JobFailedPermanent() { m.mu.Lock(); m.failedPermanent++; m.mu.Unlock() }
func (m *mockStats) JobRefunded()        { m.mu.Lock(); m.refunded++; m.mu.Unlock() }
func (m *mockStats) CompensationFailed() { m.mu.Lock(); m.compensationFailures++; m.mu.Unlock() }

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store  *mockStore
	ledger *mockLedger
	dead   *mockDeadLetters
	events *mockEvents
	stats  *mockStats
	svc    *Service

	mu          sync.Mutex
	insertCalls int
	insertErr   error
	cancelCalls []int64
	cancelErr   error
	nextRiverID int64
}

func newFixture(userID uuid.UUID, balance int) *fixture {
	f := &fixture{
		store:  newMockStore(),
		ledger: newMockLedger(userID, balance),
		dead:   &mockDeadLetters{},
		events: &mockEvents{},
		stats:  &mockStats{},
	}
	f.svc = NewService(Deps{
		Store:       f.store,
		Ledger:      f.ledger,
		DeadLetters: f.dead,
		Events:      f.events,
		Stats:       f.stats,
		InsertRender: func(_ context.Context, _ pgx.Tx, jobID, priority string) (int64, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.insertErr != nil {
				return 0, f.insertErr
			}
			f.insertCalls++
			f.nextRiverID++
			return f.nextRiverID, nil
		},
		CancelQueued: func(_ context.Context, riverJobID int64) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.cancelErr != nil {
				return f.cancelErr
			}
			f.cancelCalls = append(f.cancelCalls, riverJobID)
			return nil
		},
	})
	return f
}

func (f *fixture) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls
}

func request(userID uuid.UUID) SubmitRequest {
	return SubmitRequest{
		ProjectID:         uuid.New(),
		OrgID:             uuid.New(),
		UserID:            userID,
		Input:             json.RawMessage(`{"scenes":[{"id":"s1","duration_ms":4000}]}`),
		Engine:            "remotion",
		SceneCount:        3,
		QualityMultiplier: 1.0,
	}
}

// Cost of the request fixture under DefaultCostParams:
// round(ceil(5 + 3*2) * 1.0) = 11.
const fixtureCost = 11

// ---------------------------------------------------------------------------
// 1. Submission
// ---------------------------------------------------------------------------

func TestSubmitRenderJob_DeductsAndEnqueues(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}

	if res.Status != models.JobStatusQueued {
		t.Errorf("status: got %q, want %q", res.Status, models.JobStatusQueued)
	}
	if res.CreditsDeducted != fixtureCost {
		t.Errorf("credits deducted: got %d, want %d", res.CreditsDeducted, fixtureCost)
	}
	if res.NewBalance != 100-fixtureCost {
		t.Errorf("new balance: got %d, want %d", res.NewBalance, 100-fixtureCost)
	}

	// Exactly one deduction, one enqueue, one persisted job.
	if got := f.ledger.deductionCount(); got != 1 {
		t.Errorf("deductions: got %d, want 1", got)
	}
	if got := f.inserts(); got != 1 {
		t.Errorf("queue inserts: got %d, want 1", got)
	}
	job, _, err := f.store.GetByID(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("persisted status: got %q, want queued", job.Status)
	}
	if job.CreditTxID == nil {
		t.Error("job should reference its deduction transaction")
	}
	if job.CreditsDeducted != fixtureCost {
		t.Errorf("persisted credits: got %d, want %d", job.CreditsDeducted, fixtureCost)
	}
	if !f.store.committed {
		t.Error("submission transaction should be committed")
	}
	if f.stats.submitted != 1 {
		t.Errorf("submitted counter: got %d, want 1", f.stats.submitted)
	}
}

func TestSubmitRenderJob_InsufficientCredits(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, fixtureCost-1)

	_, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got: %v", err)
	}

	// No debit, no enqueue, no job, balance untouched.
	if got := f.ledger.deductionCount(); got != 0 {
		t.Errorf("deductions: got %d, want 0", got)
	}
	if got := f.inserts(); got != 0 {
		t.Errorf("queue inserts: got %d, want 0", got)
	}
	if got := f.ledger.balance(userID); got != fixtureCost-1 {
		t.Errorf("balance: got %d, want %d", got, fixtureCost-1)
	}
	if len(f.store.jobs) != 0 {
		t.Error("no job record should exist after a rejected submission")
	}
}

func TestSubmitRenderJob_EnqueueFailureRollsBack(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)
	f.insertErr = fmt.Errorf("queue unavailable")

	_, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if !errors.Is(err, ErrCreditOperation) {
		t.Fatalf("expected ErrCreditOperation, got: %v", err)
	}
	if f.store.committed {
		t.Error("transaction must not commit when the enqueue fails")
	}
	if len(f.store.jobs) != 0 {
		t.Error("no job record should survive a failed enqueue")
	}
}

func TestSubmitRenderJob_Validation(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	bad := request(userID)
	bad.Engine = ""
	if _, err := f.svc.SubmitRenderJob(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing engine: expected ErrInvalidRequest, got %v", err)
	}

	bad = request(userID)
	bad.Priority = "urgent"
	if _, err := f.svc.SubmitRenderJob(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown priority: expected ErrInvalidRequest, got %v", err)
	}

	bad = request(userID)
	bad.QualityMultiplier = 5.0
	if _, err := f.svc.SubmitRenderJob(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("quality out of range: expected ErrInvalidRequest, got %v", err)
	}

	// Rejections leave nothing behind.
	if got := f.ledger.deductionCount(); got != 0 {
		t.Errorf("deductions after rejected submissions: got %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Cancellation
// ---------------------------------------------------------------------------

func TestCancelRenderJob_RefundsWaitingJob(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}

	cr, err := f.svc.CancelRenderJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("CancelRenderJob: %v", err)
	}
	if !cr.Success {
		t.Fatal("cancel of a queued job should succeed")
	}
	if cr.Refunded != fixtureCost {
		t.Errorf("refund: got %d, want %d (must equal the deduction)", cr.Refunded, fixtureCost)
	}
	if got := f.ledger.balance(userID); got != 100 {
		t.Errorf("balance after refund: got %d, want 100", got)
	}
	if f.store.status(res.JobID) != models.JobStatusCancelled {
		t.Errorf("status: got %q, want cancelled", f.store.status(res.JobID))
	}
	f.mu.Lock()
	cancels := len(f.cancelCalls)
	f.mu.Unlock()
	if cancels != 1 {
		t.Errorf("queue cancels: got %d, want 1", cancels)
	}
	if got := f.events.byType(models.EventJobRefunded); len(got) == 0 {
		t.Error("expected a job.refunded event")
	}
}

func TestCancelRenderJob_ClaimedJobNotRefunded(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	if ok, _ := f.svc.MarkProcessing(context.Background(), res.JobID); !ok {
		t.Fatal("claim should succeed")
	}

	cr, err := f.svc.CancelRenderJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("CancelRenderJob: %v", err)
	}
	if cr.Success || cr.Refunded != 0 {
		t.Errorf("claimed job: got {%v, %d}, want {false, 0}", cr.Success, cr.Refunded)
	}
	if got := f.ledger.refundCount(); got != 0 {
		t.Errorf("refunds: got %d, want 0", got)
	}
}

func TestCancelRenderJob_Idempotent(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}

	first, err := f.svc.CancelRenderJob(context.Background(), res.JobID)
	if err != nil || !first.Success {
		t.Fatalf("first cancel: %+v, %v", first, err)
	}
	second, err := f.svc.CancelRenderJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Success || second.Refunded != 0 {
		t.Errorf("second cancel: got {%v, %d}, want {false, 0}", second.Success, second.Refunded)
	}
	if got := f.ledger.refundCount(); got != 1 {
		t.Errorf("refunds after double cancel: got %d, want 1", got)
	}
}

func TestCancelRenderJob_QueueCancelErrorStillRefunds(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.mu.Lock()
	f.cancelErr = fmt.Errorf("queue unreachable")
	f.mu.Unlock()

	cr, err := f.svc.CancelRenderJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("CancelRenderJob: %v", err)
	}
	if !cr.Success || cr.Refunded != fixtureCost {
		t.Errorf("got {%v, %d}, want {true, %d}", cr.Success, cr.Refunded, fixtureCost)
	}
}

// ---------------------------------------------------------------------------
// 3. Failure handling
// ---------------------------------------------------------------------------

func TestRecordFailure_IntermediateAttemptKeepsCredits(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.svc.MarkProcessing(context.Background(), res.JobID)

	jobErr := models.JobError{Code: "render_error", Message: "scene 2 timed out"}
	if err := f.svc.RecordFailure(context.Background(), res.JobID, 1, 3, jobErr); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	// Retries consume no credits and produce no dead letter.
	if got := f.ledger.refundCount(); got != 0 {
		t.Errorf("refunds: got %d, want 0", got)
	}
	if got := len(f.dead.all()); got != 0 {
		t.Errorf("dead letters: got %d, want 0", got)
	}
	if f.store.status(res.JobID) == models.JobStatusFailed {
		t.Error("job must not be marked failed before the attempt budget is spent")
	}
}

func TestRecordFailure_FinalAttemptRefundsAndDeadLetters(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.svc.MarkProcessing(context.Background(), res.JobID)

	jobErr := models.JobError{Code: "render_error", Message: "codec crashed"}
	if err := f.svc.RecordFailure(context.Background(), res.JobID, 3, 3, jobErr); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	if f.store.status(res.JobID) != models.JobStatusFailed {
		t.Errorf("status: got %q, want failed", f.store.status(res.JobID))
	}
	// Refund matches the deduction exactly.
	if got := f.ledger.balance(userID); got != 100 {
		t.Errorf("balance after compensation: got %d, want 100", got)
	}
	if got := f.ledger.refundCount(); got != 1 {
		t.Errorf("refunds: got %d, want 1", got)
	}

	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters: got %d, want 1", len(dead))
	}
	if dead[0].JobID != res.JobID || dead[0].Code != "render_error" {
		t.Errorf("dead letter: got %+v", dead[0])
	}
	if dead[0].RefundPending {
		t.Error("refund_pending should be false when the refund succeeded")
	}

	if got := f.events.byType(models.EventJobFailedPermanent); len(got) == 0 {
		t.Error("expected a job.failed.permanent event")
	}
	if got := f.events.byType(models.EventJobRefunded); len(got) == 0 {
		t.Error("expected a job.refunded event")
	}
	if f.stats.failedPermanent != 1 || f.stats.refunded != 1 {
		t.Errorf("counters: failed=%d refunded=%d, want 1/1", f.stats.failedPermanent, f.stats.refunded)
	}
}

func TestRecordFailure_RefundErrorMarksPending(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.svc.MarkProcessing(context.Background(), res.JobID)
	f.ledger.mu.Lock()
	f.ledger.refundErr = fmt.Errorf("ledger write failed")
	f.ledger.mu.Unlock()

	jobErr := models.JobError{Code: "render_error", Message: "codec crashed"}
	if err := f.svc.RecordFailure(context.Background(), res.JobID, 3, 3, jobErr); err != nil {
		t.Fatalf("RecordFailure should not re-fail the job on refund error: %v", err)
	}

	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters: got %d, want 1", len(dead))
	}
	if !dead[0].RefundPending {
		t.Error("refund_pending should be set when the refund could not be issued")
	}
	if f.stats.compensationFailures != 1 {
		t.Errorf("compensation failures: got %d, want 1", f.stats.compensationFailures)
	}
}

func TestReplayJob_RequeuesFailedJob(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.svc.MarkProcessing(context.Background(), res.JobID)
	jobErr := models.JobError{Code: "render_error", Message: "codec crashed"}
	if err := f.svc.RecordFailure(context.Background(), res.JobID, 3, 3, jobErr); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	replayed, err := f.svc.ReplayJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("ReplayJob: %v", err)
	}
	if replayed.Status != models.JobStatusQueued {
		t.Errorf("status: got %q, want queued", replayed.Status)
	}
	if f.store.status(res.JobID) != models.JobStatusQueued {
		t.Errorf("persisted status: got %q, want queued", f.store.status(res.JobID))
	}
	if got := f.inserts(); got != 2 {
		t.Errorf("queue inserts: got %d, want 2 (original + replay)", got)
	}
	// Replay is free: the failure refund already settled the deduction.
	if got := f.ledger.deductionCount(); got != 1 {
		t.Errorf("deductions: got %d, want 1", got)
	}
}

func TestReplayJob_RejectsNonFailedJob(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	res, err := f.svc.SubmitRenderJob(context.Background(), request(userID))
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}

	if _, err := f.svc.ReplayJob(context.Background(), res.JobID); !errors.Is(err, ErrNotReplayable) {
		t.Fatalf("replaying a queued job: got %v, want ErrNotReplayable", err)
	}
	if got := f.inserts(); got != 1 {
		t.Errorf("queue inserts: got %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// 4. Completion and per-job webhook override
// ---------------------------------------------------------------------------

func TestMarkCompleted_PublishesToJobWebhook(t *testing.T) {
	userID := uuid.New()
	f := newFixture(userID, 100)

	req := request(userID)
	req.WebhookURL = "https://example.com/hooks/render"
	res, err := f.svc.SubmitRenderJob(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitRenderJob: %v", err)
	}
	f.svc.MarkProcessing(context.Background(), res.JobID)

	if err := f.svc.MarkCompleted(context.Background(), res.JobID, "https://cdn.example.com/out.mp4"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if f.store.status(res.JobID) != models.JobStatusCompleted {
		t.Errorf("status: got %q, want completed", f.store.status(res.JobID))
	}
	events := f.events.byType(models.EventJobCompleted)
	if len(events) != 2 {
		t.Fatalf("job.completed publishes: got %d, want 2 (registry + per-job URL)", len(events))
	}
	var direct bool
	for _, e := range events {
		if e.URL == req.WebhookURL {
			direct = true
		}
	}
	if !direct {
		t.Error("expected a direct delivery to the job's webhook_url")
	}
	// Completion never touches credits.
	if got := f.ledger.balance(userID); got != 100-fixtureCost {
		t.Errorf("balance after completion: got %d, want %d", got, 100-fixtureCost)
	}
}
