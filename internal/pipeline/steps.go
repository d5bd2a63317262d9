package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/apperr"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/normalize"
	"github.com/dvloznov/statement-extractor/internal/storage"
	"github.com/dvloznov/statement-extractor/internal/validation"
)

// PipelineStep represents a single stage of statement processing.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job        *jobs.Job
	Document   []byte
	Analysis   *analysis.Result
	Normalized *normalize.Output
	Payload    map[string]any
	Accounts   int
	Timings    map[string]time.Duration
}

// RetrieveStep fetches the raw document from storage.
type RetrieveStep struct {
	Source  DocumentSource
	Timeout time.Duration
}

func (s *RetrieveStep) Name() string { return "retrieve" }

func (s *RetrieveStep) Execute(ctx context.Context, state *PipelineState) error {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	data, err := s.Source.Get(ctx, state.Job.StorageKey)
	if err != nil {
		return apperr.Wrap(apperr.KindRetrievalFailed, err, "Failed to retrieve document %s", state.Job.StorageKey).
			WithDetail("storageKey", state.Job.StorageKey).
			WithDetail("notFound", errors.Is(err, storage.ErrNotFound))
	}
	state.Document = data
	return nil
}

// AnalyzeStep runs document analysis on the retrieved bytes.
type AnalyzeStep struct {
	Analyzer analysis.Analyzer
	Timeout  time.Duration
}

func (s *AnalyzeStep) Name() string { return "analyze" }

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	res, err := s.Analyzer.Analyze(ctx, analysis.Document{
		Key:         state.Job.StorageKey,
		FileName:    state.Job.FileName,
		ContentType: contentTypeFor(state.Job.FileName),
		Data:        state.Document,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindAnalysisFailed, err, "Failed to analyze document %s", state.Job.FileName).
			WithDetail("reason", analysisReason(err))
	}
	state.Analysis = res
	return nil
}

// NormalizeStep asks the model for a BankStatementData shaped object. The
// normalizer enforces its own attempt and budget timeouts.
type NormalizeStep struct {
	Normalizer StatementNormalizer
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	out, err := s.Normalizer.Normalize(ctx, normalize.NewRequest(state.Job.FileName, state.Analysis))
	if err != nil {
		wrapped := apperr.Wrap(apperr.KindNormalizationFailed, err, "Failed to normalize statement %s", state.Job.FileName)
		var nerr *normalize.Error
		if errors.As(err, &nerr) {
			wrapped.WithDetail("reason", string(nerr.Reason)).WithDetail("attempts", nerr.Attempts)
		}
		return wrapped
	}
	state.Normalized = out
	return nil
}

// ValidateStep runs the validation library over the normalized payload.
type ValidateStep struct{}

func (s *ValidateStep) Name() string { return "validate" }

func (s *ValidateStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Normalized == nil || state.Normalized.Payload == nil {
		return apperr.New(apperr.KindNormalizationFailed, "Normalization produced no statement")
	}
	payload, err := validation.ValidateStatementPayload(state.Normalized.Payload)
	if err != nil {
		return apperr.Wrap(apperr.KindValidationFailed, err, "Statement failed validation").
			WithDetail("fieldErrors", validation.AsErrors(err))
	}
	state.Payload = payload
	if accounts, ok := payload["accounts"].([]any); ok {
		state.Accounts = len(accounts)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure. Step
// errors are returned unwrapped so their message can be stored on the job.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) (string, error) {
	if state.Timings == nil {
		state.Timings = make(map[string]time.Duration, len(p.steps))
	}
	for _, step := range p.steps {
		start := time.Now()
		err := step.Execute(ctx, state)
		state.Timings[step.Name()] = time.Since(start)
		if err != nil {
			return step.Name(), err
		}
	}
	return "", nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func analysisReason(err error) string {
	switch {
	case errors.Is(err, analysis.ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, analysis.ErrTooLarge):
		return "TooLarge"
	case errors.Is(err, analysis.ErrThrottled):
		return "Throttled"
	default:
		return "Transient"
	}
}

func contentTypeFor(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	default:
		return ""
	}
}
