package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/archive"
	"github.com/dvloznov/statement-extractor/internal/config"
	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/jobs/inmemory"
	"github.com/dvloznov/statement-extractor/internal/storage"
)

type staticGenerator struct{ out string }

func (g staticGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.out, nil
}

const modelReply = `{
  "fileName": "jan.csv",
  "accounts": [{
    "accountNumber": 12345678,
    "currency": "eur",
    "transactions": [
      {"date": "02/01/2024", "description": "Rent", "debit": "(750.00)", "credit": null, "balance": null}
    ]
  }]
}`

func memoryConfig() *config.Config {
	cfg := config.FromEnv()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Store.Backend = config.BackendMemory
	cfg.Queue.Backend = config.BackendMemory
	cfg.Archive = archive.Config{}
	return cfg
}

func TestNew_MemoryBackendsEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zerolog.Nop(), WithGenerator(staticGenerator{out: modelReply}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*inmemory.Store); !ok {
		t.Fatalf("Expected in-memory store, got %T", a.Store)
	}
	if _, ok := a.Files.(*storage.Memory); !ok {
		t.Fatalf("Expected memory storage, got %T", a.Files)
	}

	key, err := a.Files.Put(ctx, []byte("date,description,amount\n02/01/2024,Rent,-750.00\n"), "text/csv", "jan.csv")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	job, err := a.Store.CreateJob(ctx, "jan.csv", key)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	res, err := a.Orchestrator.Process(ctx, job.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != jobs.StatusProcessed || res.AccountsDetected != 1 {
		t.Fatalf("Unexpected result: %+v", res)
	}

	data, err := a.Orchestrator.GetResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	acct := data.Accounts[0]
	if acct.AccountNumber == nil || *acct.AccountNumber != "12345678" {
		t.Errorf("Expected numeric account number coerced to string, got %v", acct.AccountNumber)
	}
	tx := acct.Transactions[0]
	if tx.Date != "2024-01-02" || tx.Debit == nil || *tx.Debit != -750 {
		t.Errorf("Unexpected transaction: %+v", tx)
	}
}

func TestNewPublisher_Memory(t *testing.T) {
	a := &App{Config: memoryConfig(), Log: zerolog.Nop()}
	pub, consumer := a.NewPublisher()
	if consumer == nil || pub != jobs.Publisher(consumer) {
		t.Fatal("Expected memory queue to publish and consume")
	}
	if _, err := a.NewConsumer(); err == nil {
		t.Error("Expected worker consumer to require redis")
	}
	_ = pub.Close()
}
