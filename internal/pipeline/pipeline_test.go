package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/jobs/inmemory"
	"github.com/dvloznov/statement-extractor/internal/normalize"
	"github.com/dvloznov/statement-extractor/internal/statement"
	"github.com/dvloznov/statement-extractor/internal/storage"
)

const testKey = "uploads/2024/01/31/doc.pdf"

type fakeAnalyzer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, doc analysis.Document) (*analysis.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{
		Blocks:    []analysis.Block{{Page: 1, Line: 1, Text: "15/01/2024 Coffee 100.00"}},
		PageCount: 1,
		Engine:    "fake",
	}, nil
}

type fakeNormalizer struct {
	payload map[string]any
	err     error
	// block, when set, holds every call until it is closed.
	block chan struct{}
	// nilOutput makes Normalize return (nil, nil).
	nilOutput bool
	// ctxErr is ctx.Err() as seen once the call is released.
	ctxErr error
}

func (f *fakeNormalizer) Normalize(ctx context.Context, req normalize.Request) (*normalize.Output, error) {
	if f.block != nil {
		<-f.block
	}
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	if f.nilOutput {
		return nil, nil
	}
	return &normalize.Output{Payload: jobs.CloneData(f.payload), Attempts: 1}, nil
}

type recordingArchiver struct {
	mu    sync.Mutex
	saved []*statement.BankStatementData
	err   error
}

func (a *recordingArchiver) Archive(ctx context.Context, job *jobs.Job, data *statement.BankStatementData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, data)
	return a.err
}

func validPayload() map[string]any {
	return map[string]any{
		"fileName": "jan.pdf",
		"accounts": []any{
			map[string]any{
				"bankName":      "Test Bank",
				"accountNumber": "12345678",
				"accountType":   "Checking",
				"currency":      "gbp",
				"transactions": []any{
					map[string]any{"date": "15/01/2024", "description": " Coffee ", "debit": "100.00", "credit": nil, "balance": 900.0},
					map[string]any{"date": "2024-01-20", "description": "Salary", "debit": nil, "credit": 2000.0, "balance": 2900.0},
				},
			},
		},
	}
}

type fixture struct {
	store      *inmemory.Store
	docs       *storage.Memory
	analyzer   *fakeAnalyzer
	normalizer *fakeNormalizer
	orch       *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:      inmemory.NewStore(),
		docs:       storage.NewMemory(),
		analyzer:   &fakeAnalyzer{},
		normalizer: &fakeNormalizer{payload: validPayload()},
	}
	f.docs.PutKey(testKey, storage.Object{Data: []byte("%PDF-1.7"), OriginalName: "jan.pdf"})
	f.orch = New(f.store, f.docs, f.analyzer, f.normalizer, zerolog.Nop(), opts...)
	return f
}

func (f *fixture) createJob(t *testing.T, key string) *jobs.Job {
	t.Helper()
	job, err := f.store.CreateJob(context.Background(), "jan.pdf", key)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestProcess_Success(t *testing.T) {
	archiver := &recordingArchiver{}
	f := newFixture(t, WithArchiver(archiver))
	job := f.createJob(t, testKey)
	ctx := context.Background()

	res, err := f.orch.Process(ctx, job.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != jobs.StatusProcessed || res.AccountsDetected != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}

	stored, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s", stored.Status)
	}
	if stored.AccountsDetected == nil || *stored.AccountsDetected != 1 {
		t.Errorf("Expected accountsDetected 1, got %v", stored.AccountsDetected)
	}
	if stored.ErrorMessage != nil {
		t.Errorf("Expected no error message, got %q", *stored.ErrorMessage)
	}
	if _, ok := stored.ProcessedData[DiagnosticsKey]; !ok {
		t.Error("Expected diagnostics in processed data")
	}

	data, err := f.orch.GetResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if data.FileName != "jan.pdf" || len(data.Accounts) != 1 {
		t.Fatalf("Unexpected result data: %+v", data)
	}
	acct := data.Accounts[0]
	if acct.Currency == nil || *acct.Currency != "GBP" {
		t.Errorf("Expected currency GBP, got %v", acct.Currency)
	}
	if acct.AccountType == nil || *acct.AccountType != statement.AccountTypeChecking {
		t.Errorf("Expected checking account, got %v", acct.AccountType)
	}
	if len(acct.Transactions) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(acct.Transactions))
	}
	tx := acct.Transactions[0]
	if tx.Date != "2024-01-15" || tx.Description != "Coffee" || tx.Debit == nil || *tx.Debit != 100 || tx.Credit != nil {
		t.Errorf("Unexpected first transaction: %+v", tx)
	}

	if len(archiver.saved) != 1 {
		t.Errorf("Expected one archived statement, got %d", len(archiver.saved))
	}
}

func TestProcess_ArchiveFailureKeepsProcessed(t *testing.T) {
	f := newFixture(t, WithArchiver(&recordingArchiver{err: errors.New("warehouse down")}))
	job := f.createJob(t, testKey)

	if _, err := f.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s", stored.Status)
	}
}

func TestProcess_StageFailures(t *testing.T) {
	conflicting := validPayload()
	tx := conflicting["accounts"].([]any)[0].(map[string]any)["transactions"].([]any)[0].(map[string]any)
	tx["credit"] = 50.0

	tests := []struct {
		name        string
		key         string
		analyzerErr error
		normErr     error
		payload     map[string]any
		wantErr     error
		wantMessage string
	}{
		{
			name:        "missing document",
			key:         "uploads/missing.pdf",
			wantErr:     apperr.ErrRetrievalFailed,
			wantMessage: "Failed to retrieve",
		},
		{
			name:        "analysis failure",
			key:         testKey,
			analyzerErr: analysis.ErrUnsupportedFormat,
			wantErr:     apperr.ErrAnalysisFailed,
			wantMessage: "unsupported document format",
		},
		{
			name:        "normalization failure",
			key:         testKey,
			normErr:     &normalize.Error{Reason: normalize.ReasonAuthFailed, Attempts: 1, Err: errors.New("bad key")},
			wantErr:     apperr.ErrNormalizationFailed,
			wantMessage: "Failed to normalize",
		},
		{
			name:        "debit and credit conflict",
			key:         testKey,
			payload:     conflicting,
			wantErr:     apperr.ErrValidationFailed,
			wantMessage: "debit and credit",
		},
		{
			name:        "missing accounts",
			key:         testKey,
			payload:     map[string]any{"fileName": "jan.pdf"},
			wantErr:     apperr.ErrValidationFailed,
			wantMessage: "accounts are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.analyzer.err = tt.analyzerErr
			f.normalizer.err = tt.normErr
			if tt.payload != nil {
				f.normalizer.payload = tt.payload
			}
			job := f.createJob(t, tt.key)

			_, err := f.orch.Process(context.Background(), job.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}

			stored, _ := f.store.GetJob(context.Background(), job.ID)
			if stored.Status != jobs.StatusFailed {
				t.Fatalf("Expected FAILED, got %s", stored.Status)
			}
			if stored.ErrorMessage == nil || !strings.Contains(*stored.ErrorMessage, tt.wantMessage) {
				t.Errorf("Expected error message containing %q, got %v", tt.wantMessage, stored.ErrorMessage)
			}
			if stored.ProcessedData != nil || stored.AccountsDetected != nil {
				t.Error("Expected no result fields on a failed job")
			}
		})
	}
}

func TestProcess_NormalizationFailureDetails(t *testing.T) {
	f := newFixture(t)
	f.normalizer.err = &normalize.Error{Reason: normalize.ReasonQuotaExceeded, Attempts: 1, Err: errors.New("429")}
	job := f.createJob(t, testKey)

	_, err := f.orch.Process(context.Background(), job.ID)
	details := apperr.DetailsOf(err)
	if details["reason"] != string(normalize.ReasonQuotaExceeded) || details["attempts"] != 1 {
		t.Errorf("Unexpected details: %v", details)
	}
}

func TestProcess_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Process(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected InvalidInput for empty id, got %v", err)
	}
	if _, err := f.orch.Process(ctx, "nope"); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("Expected JobNotFound, got %v", err)
	}

	job := f.createJob(t, testKey)
	if _, err := f.orch.Process(ctx, job.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	_, err := f.orch.Process(ctx, job.ID)
	if !errors.Is(err, apperr.ErrInvalidJobStatus) {
		t.Fatalf("Expected InvalidJobStatus, got %v", err)
	}
	if got := apperr.DetailsOf(err)["currentStatus"]; got != string(jobs.StatusProcessed) {
		t.Errorf("Expected currentStatus PROCESSED, got %v", got)
	}
	if n := f.analyzer.calls.Load(); n != 1 {
		t.Errorf("Expected analyzer to run once, ran %d times", n)
	}
}

func TestProcess_ConcurrentCallsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	f.normalizer.block = make(chan struct{})
	job := f.createJob(t, testKey)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	started := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-started
			_, errs[i] = f.orch.Process(context.Background(), job.ID)
		}(i)
	}
	close(started)

	// Losers return without reaching the normalizer; release the winner once
	// they have all been rejected.
	go func() {
		for {
			stored, _ := f.store.GetJob(context.Background(), job.ID)
			if stored.Status == jobs.StatusProcessing {
				break
			}
		}
		close(f.normalizer.block)
	}()
	wg.Wait()

	winners, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, apperr.ErrInvalidJobStatus):
			rejected++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if winners != 1 || rejected != callers-1 {
		t.Errorf("Expected 1 winner and %d rejections, got %d and %d", callers-1, winners, rejected)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s", stored.Status)
	}
}

func TestProcess_DeletedMidPipeline(t *testing.T) {
	f := newFixture(t)
	f.normalizer.block = make(chan struct{})
	job := f.createJob(t, testKey)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Process(context.Background(), job.ID)
		done <- err
	}()

	for {
		stored, err := f.store.GetJob(context.Background(), job.ID)
		if err == nil && stored.Status == jobs.StatusProcessing {
			break
		}
	}
	if _, err := f.store.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	close(f.normalizer.block)

	if err := <-done; !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("Expected JobNotFound, got %v", err)
	}
}

func TestProcess_CallerCancellationDoesNotAbandonJob(t *testing.T) {
	f := newFixture(t)
	f.normalizer.block = make(chan struct{})
	job := f.createJob(t, testKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Process(ctx, job.ID)
		done <- err
	}()

	for {
		stored, err := f.store.GetJob(context.Background(), job.ID)
		if err == nil && stored.Status == jobs.StatusProcessing {
			break
		}
	}
	cancel()
	close(f.normalizer.block)

	if err := <-done; err != nil {
		t.Fatalf("Process after caller cancellation: %v", err)
	}
	if f.normalizer.ctxErr != nil {
		t.Errorf("Stage saw canceled context: %v", f.normalizer.ctxErr)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s (error %v)", stored.Status, stored.ErrorMessage)
	}
}

func TestProcess_CanceledBeforeDispatchStillRuns(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, testKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.orch.Process(ctx, job.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s", stored.Status)
	}
}

func TestProcess_EmptyNormalizerOutput(t *testing.T) {
	f := newFixture(t)
	f.normalizer.nilOutput = true
	job := f.createJob(t, testKey)

	_, err := f.orch.Process(context.Background(), job.ID)
	if !errors.Is(err, apperr.ErrNormalizationFailed) {
		t.Fatalf("Expected NormalizationFailed, got %v", err)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusFailed {
		t.Errorf("Expected FAILED, got %s", stored.Status)
	}
}

func TestHandleTask(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, testKey)

	if err := f.orch.HandleTask(context.Background(), &jobs.ProcessTask{JobID: job.ID}); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	stored, _ := f.store.GetJob(context.Background(), job.ID)
	if stored.Status != jobs.StatusProcessed {
		t.Errorf("Expected PROCESSED, got %s", stored.Status)
	}
}

func TestGetResult_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.GetResult(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected InvalidInput, got %v", err)
	}
	if _, err := f.orch.GetResult(ctx, "missing"); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("Expected JobNotFound, got %v", err)
	}

	uploaded := f.createJob(t, testKey)
	_, err := f.orch.GetResult(ctx, uploaded.ID)
	if !errors.Is(err, apperr.ErrJobNotProcessed) {
		t.Fatalf("Expected JobNotProcessed, got %v", err)
	}
	if got := apperr.DetailsOf(err)["status"]; got != string(jobs.StatusUploaded) {
		t.Errorf("Expected status detail UPLOADED, got %v", got)
	}

	failed := f.createJob(t, testKey)
	msg := "boom"
	if _, err := f.store.UpdateStatus(ctx, failed.ID, jobs.StatusFailed, &jobs.Update{ErrorMessage: &msg}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	_, err = f.orch.GetResult(ctx, failed.ID)
	if got := apperr.DetailsOf(err)["errorMessage"]; got != "boom" {
		t.Errorf("Expected errorMessage detail, got %v", got)
	}

	empty := f.createJob(t, testKey)
	if _, err := f.store.UpdateStatus(ctx, empty.ID, jobs.StatusProcessing, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.store.UpdateStatus(ctx, empty.ID, jobs.StatusProcessed, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.orch.GetResult(ctx, empty.ID); !errors.Is(err, apperr.ErrMissingProcessedData) {
		t.Errorf("Expected MissingProcessedData, got %v", err)
	}
}

func TestGetResult_StripsUnknownFields(t *testing.T) {
	f := newFixture(t)
	payload := validPayload()
	payload["internalNotes"] = "secret"
	payload["accounts"].([]any)[0].(map[string]any)["rawText"] = "page dump"
	f.normalizer.payload = payload
	job := f.createJob(t, testKey)

	if _, err := f.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	data, err := f.orch.GetResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if data.FileName != "jan.pdf" || len(data.Accounts) != 1 {
		t.Errorf("Unexpected data: %+v", data)
	}
}
