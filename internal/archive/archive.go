// Package archive copies processed statements into BigQuery so they can be
// queried alongside other ledgers. Archiving is best effort: the job's state is
// already final when it runs.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// Config names the destination tables.
type Config struct {
	ProjectID         string
	DatasetID         string
	StatementsTable   string
	TransactionsTable string
}

// Enabled reports whether an archive destination is configured.
func (c Config) Enabled() bool {
	return c.ProjectID != "" && c.DatasetID != ""
}

func (c Config) withDefaults() Config {
	if c.StatementsTable == "" {
		c.StatementsTable = "statement_accounts"
	}
	if c.TransactionsTable == "" {
		c.TransactionsTable = "statement_transactions"
	}
	return c
}

// Inserter streams rows into one table. *bigquery.Inserter satisfies it.
type Inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryArchiver writes statement and transaction rows.
type BigQueryArchiver struct {
	client       *bigquery.Client
	statements   Inserter
	transactions Inserter
	log          zerolog.Logger
	now          func() time.Time
}

// NewBigQueryArchiver creates an archiver with its own BigQuery client.
func NewBigQueryArchiver(ctx context.Context, cfg Config, log zerolog.Logger) (*BigQueryArchiver, error) {
	cfg = cfg.withDefaults()
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryArchiver: creating client: %w", err)
	}
	dataset := client.DatasetInProject(cfg.ProjectID, cfg.DatasetID)

	a := NewWithInserters(dataset.Table(cfg.StatementsTable).Inserter(), dataset.Table(cfg.TransactionsTable).Inserter(), log)
	a.client = client
	return a, nil
}

// NewWithInserters creates an archiver over caller supplied inserters.
func NewWithInserters(statements, transactions Inserter, log zerolog.Logger) *BigQueryArchiver {
	return &BigQueryArchiver{
		statements:   statements,
		transactions: transactions,
		log:          log,
		now:          time.Now,
	}
}

// Archive writes one statement row per account and one row per transaction.
func (a *BigQueryArchiver) Archive(ctx context.Context, job *jobs.Job, data *statement.BankStatementData) error {
	statements, transactions, err := BuildRows(job, data, a.now().UTC())
	if err != nil {
		return fmt.Errorf("Archive: building rows: %w", err)
	}
	if len(statements) > 0 {
		if err := a.statements.Put(ctx, statements); err != nil {
			return fmt.Errorf("Archive: inserting statements: %w", err)
		}
	}
	if len(transactions) > 0 {
		if err := a.transactions.Put(ctx, transactions); err != nil {
			return fmt.Errorf("Archive: inserting transactions: %w", err)
		}
	}

	a.log.Info().
		Str("job_id", job.ID).
		Int("accounts", len(statements)).
		Int("transactions", len(transactions)).
		Msg("Statement archived")
	return nil
}

// Close releases the BigQuery client.
func (a *BigQueryArchiver) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
