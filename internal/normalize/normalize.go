// Package normalize turns raw analysis blocks into a BankStatementData shaped
// JSON object using a generative model. It owns the retry, backoff and timeout
// policy for that call; callers see either a schema-shaped object or an *Error.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/analysis"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// TextGenerator completes a prompt. Implementations report backend failures
// as *BackendError where a status code is known.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config bounds the normalization call.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	// TotalBudget is the hard wall-clock cutoff across all attempts.
	TotalBudget time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		AttemptTimeout: 60 * time.Second,
		TotalBudget:    3 * time.Minute,
	}
}

// Request is the input of one normalization.
type Request struct {
	FileName  string
	Blocks    []analysis.Block
	PageCount int
}

// NewRequest builds a Request from an analysis result.
func NewRequest(fileName string, res *analysis.Result) Request {
	req := Request{FileName: fileName}
	if res != nil {
		req.Blocks = res.Blocks
		req.PageCount = res.PageCount
	}
	return req
}

// Output is a schema-shaped payload plus facts about how it was obtained.
type Output struct {
	Payload  map[string]any
	Attempts int
	// Repaired is set when fences or surrounding text had to be stripped.
	Repaired bool
}

// Normalizer calls a TextGenerator under a bounded retry policy.
type Normalizer struct {
	gen   TextGenerator
	cfg   Config
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Normalizer. Zero fields in cfg take defaults.
func New(gen TextGenerator, cfg Config, log zerolog.Logger) *Normalizer {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = def.TotalBudget
	}
	return &Normalizer{gen: gen, cfg: cfg, log: log, sleep: sleepCtx}
}

// Normalize returns the model's BankStatementData shaped object. The object
// has passed the JSON schema but not the validation library.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.TotalBudget)
	defer cancel()

	log := n.log.With().Str("file_name", req.FileName).Logger()
	backoff := n.cfg.InitialBackoff
	feedback := ""
	var lastErr error
	var lastReason Reason

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		out, reason, err := n.attempt(ctx, req, feedback)
		if err == nil {
			out.Attempts = attempt
			if out.Repaired {
				log.Warn().Bool("repaired", true).Int("attempt", attempt).Msg("Model output needed cleanup before parsing")
			}
			log.Info().Int("attempt", attempt).Dur("elapsed", time.Since(start)).Msg("Normalization succeeded")
			return out, nil
		}

		lastErr, lastReason = err, reason
		// A deadline on the whole budget is final even though per-attempt
		// timeouts are retryable.
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				lastReason = ReasonTimeout
			}
			return nil, &Error{Reason: lastReason, Attempts: attempt, Err: lastErr}
		}

		log.Warn().
			Err(err).
			Str("reason", string(reason)).
			Int("attempt", attempt).
			Int("max_attempts", n.cfg.MaxAttempts).
			Dur("elapsed", time.Since(start)).
			Msg("Normalization attempt failed")

		if !reason.Retryable() {
			return nil, &Error{Reason: reason, Attempts: attempt, Err: err}
		}
		if attempt == n.cfg.MaxAttempts {
			break
		}
		if reason == ReasonMalformedOutput || reason == ReasonSchemaInvalid {
			feedback = truncate(err.Error(), 500)
		}
		if err := n.sleep(ctx, backoff); err != nil {
			return nil, &Error{Reason: ReasonTimeout, Attempts: attempt, Err: lastErr}
		}
		backoff *= 2
		if backoff > n.cfg.MaxBackoff {
			backoff = n.cfg.MaxBackoff
		}
	}

	return nil, &Error{Reason: lastReason, Attempts: n.cfg.MaxAttempts, Err: lastErr}
}

func (n *Normalizer) attempt(ctx context.Context, req Request, feedback string) (*Output, Reason, error) {
	actx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
	defer cancel()

	raw, err := n.gen.Generate(actx, buildPrompt(req, feedback))
	if err != nil {
		return nil, classify(err), fmt.Errorf("generate content: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ReasonMalformedOutput, fmt.Errorf("empty response from model")
	}

	clean, repaired := cleanModelJSON(raw)
	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, ReasonMalformedOutput, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if err := validateSchema(parsed); err != nil {
		return nil, ReasonSchemaInvalid, err
	}

	payload := parsed.(map[string]any)
	if name, _ := payload[statement.KeyFileName].(string); strings.TrimSpace(name) == "" {
		payload[statement.KeyFileName] = req.FileName
	}
	return &Output{Payload: payload, Repaired: repaired}, "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
