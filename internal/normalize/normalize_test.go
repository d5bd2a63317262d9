package normalize

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/analysis"
)

type reply struct {
	text string
	err  error
}

// scriptedGenerator returns its replies in order and records prompts.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
	block   bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	idx := len(g.prompts) - 1
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if idx >= len(g.replies) {
		return "", errors.New("no more replies")
	}
	return g.replies[idx].text, g.replies[idx].err
}

const validJSON = `{"fileName":"statement.pdf","accounts":[{"accountNumber":"123","transactions":[` +
	`{"date":"2024-01-02","description":"Salary","debit":null,"credit":1000,"balance":1500}]}]}`

func newTestNormalizer(gen TextGenerator, cfg Config) (*Normalizer, *[]time.Duration) {
	n := New(gen, cfg, zerolog.Nop())
	slept := &[]time.Duration{}
	n.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return n, slept
}

func testRequest() Request {
	return NewRequest("statement.pdf", &analysis.Result{
		PageCount: 1,
		Blocks: []analysis.Block{
			{Page: 1, Line: 1, Text: "Barclays Bank"},
			{Page: 1, Line: 2, Text: "02/01/2024 Salary 1,000.00", Cells: []string{"02/01/2024", "Salary", "1,000.00"}},
		},
	})
}

func TestNormalize_Success(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: validJSON}}}
	n, _ := newTestNormalizer(gen, DefaultConfig())

	out, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Attempts != 1 || out.Repaired {
		t.Errorf("attempts=%d repaired=%v", out.Attempts, out.Repaired)
	}
	accounts := out.Payload["accounts"].([]any)
	if len(accounts) != 1 {
		t.Errorf("accounts = %v", accounts)
	}
	if !strings.Contains(gen.prompts[0], "[1:2] 02/01/2024 | Salary | 1,000.00") {
		t.Errorf("prompt should render cells:\n%s", gen.prompts[0])
	}
	if !strings.Contains(gen.prompts[0], "File name: statement.pdf") {
		t.Errorf("prompt should carry the file name")
	}
}

func TestNormalize_RepairsFencedOutput(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: "Here you go:\n```json\n" + validJSON + "\n```"}}}
	n, _ := newTestNormalizer(gen, DefaultConfig())

	out, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !out.Repaired {
		t.Error("expected Repaired to be set")
	}
}

func TestNormalize_DefaultsFileName(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: `{"fileName":null,"accounts":[]}`}}}
	n, _ := newTestNormalizer(gen, DefaultConfig())

	out, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Payload["fileName"] != "statement.pdf" {
		t.Errorf("fileName = %v", out.Payload["fileName"])
	}
}

func TestNormalize_RetriesThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{
		{text: `{"accounts": [`},
		{text: `{"accounts": "nope"}`},
		{text: validJSON},
	}}
	cfg := DefaultConfig()
	cfg.InitialBackoff = 100 * time.Millisecond
	n, slept := newTestNormalizer(gen, cfg)

	out, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("backoff = %v, want %v", *slept, want)
	}
	if !strings.Contains(gen.prompts[1], "previous answer was rejected") {
		t.Error("retry prompt should explain the rejection")
	}
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name         string
		replies      []reply
		wantReason   Reason
		wantAttempts int
	}{
		{
			name:         "malformed every time",
			replies:      []reply{{text: "not json"}, {text: "{"}, {text: "still not"}},
			wantReason:   ReasonMalformedOutput,
			wantAttempts: 3,
		},
		{
			name:         "schema mismatch every time",
			replies:      []reply{{text: `{"accounts":1}`}, {text: `{}`}, {text: `[]`}},
			wantReason:   ReasonSchemaInvalid,
			wantAttempts: 3,
		},
		{
			name:         "auth is not retried",
			replies:      []reply{{err: &BackendError{StatusCode: http.StatusUnauthorized, Message: "bad key"}}},
			wantReason:   ReasonAuthFailed,
			wantAttempts: 1,
		},
		{
			name:         "quota is not retried",
			replies:      []reply{{err: &BackendError{StatusCode: http.StatusTooManyRequests}}},
			wantReason:   ReasonQuotaExceeded,
			wantAttempts: 1,
		},
		{
			name:         "bad request is not retried",
			replies:      []reply{{err: &BackendError{StatusCode: http.StatusBadRequest}}},
			wantReason:   ReasonRejected,
			wantAttempts: 1,
		},
		{
			name: "server errors are retried",
			replies: []reply{
				{err: &BackendError{StatusCode: http.StatusServiceUnavailable}},
				{err: &BackendError{StatusCode: http.StatusInternalServerError}},
				{err: &BackendError{StatusCode: http.StatusBadGateway}},
			},
			wantReason:   ReasonTransient,
			wantAttempts: 3,
		},
		{
			name:         "empty output",
			replies:      []reply{{text: "  "}, {text: ""}, {text: "\n"}},
			wantReason:   ReasonMalformedOutput,
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(&scriptedGenerator{replies: tt.replies}, DefaultConfig())
			_, err := n.Normalize(context.Background(), testRequest())
			var nerr *Error
			if !errors.As(err, &nerr) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if nerr.Reason != tt.wantReason || nerr.Attempts != tt.wantAttempts {
				t.Errorf("got %s after %d attempts, want %s after %d", nerr.Reason, nerr.Attempts, tt.wantReason, tt.wantAttempts)
			}
		})
	}
}

func TestNormalize_AttemptTimeoutIsRetried(t *testing.T) {
	gen := &scriptedGenerator{block: true}
	cfg := DefaultConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	n, _ := newTestNormalizer(gen, cfg)

	_, err := n.Normalize(context.Background(), testRequest())
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Reason != ReasonTimeout {
		t.Fatalf("error = %v, want Timeout", err)
	}
	if len(gen.prompts) != 2 {
		t.Errorf("attempts = %d, want 2", len(gen.prompts))
	}
}

func TestNormalize_TotalBudgetIsHardCutoff(t *testing.T) {
	gen := &scriptedGenerator{block: true}
	cfg := DefaultConfig()
	cfg.AttemptTimeout = time.Minute
	cfg.TotalBudget = 20 * time.Millisecond
	n, _ := newTestNormalizer(gen, cfg)

	start := time.Now()
	_, err := n.Normalize(context.Background(), testRequest())
	if time.Since(start) > 5*time.Second {
		t.Fatal("budget did not cut the call off")
	}
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Reason != ReasonTimeout || nerr.Attempts != 1 {
		t.Errorf("error = %v, want Timeout after 1 attempt", err)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		want         string
		wantRepaired bool
	}{
		{"plain", `  {"a":1} `, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", "Sure! {\"a\":1} Hope this helps.", `{"a":1}`, true},
		{"single line fence", "```", "```", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, repaired := cleanModelJSON(tt.in)
			if got != tt.want || repaired != tt.wantRepaired {
				t.Errorf("cleanModelJSON(%q) = %q, %v; want %q, %v", tt.in, got, repaired, tt.want, tt.wantRepaired)
			}
		})
	}
}

func TestAsBackendError(t *testing.T) {
	if !errors.Is(asBackendError(context.DeadlineExceeded), context.DeadlineExceeded) {
		t.Error("deadline should pass through")
	}
	plain := errors.New("dial tcp: refused")
	if asBackendError(plain) != plain {
		t.Error("unknown errors should pass through")
	}
	if classify(plain) != ReasonTransient {
		t.Error("network errors are transient")
	}
}
