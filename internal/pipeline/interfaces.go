package pipeline

import (
	"context"

	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/normalize"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// DocumentSource fetches raw document bytes. storage.Storage satisfies it.
type DocumentSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// StatementNormalizer turns analysis output into a schema-shaped payload.
// *normalize.Normalizer satisfies it.
type StatementNormalizer interface {
	Normalize(ctx context.Context, req normalize.Request) (*normalize.Output, error)
}

// Archiver receives every successfully processed statement. Archive failures
// never change the job's terminal state.
type Archiver interface {
	Archive(ctx context.Context, job *jobs.Job, data *statement.BankStatementData) error
}
