package archive

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

type recordingInserter struct {
	puts []interface{}
	err  error
}

func (r *recordingInserter) Put(ctx context.Context, src interface{}) error {
	r.puts = append(r.puts, src)
	return r.err
}

func ptr[T any](v T) *T { return &v }

func sampleStatement() *statement.BankStatementData {
	checking := statement.AccountTypeChecking
	return &statement.BankStatementData{
		FileName: "jan.pdf",
		Accounts: []statement.BankAccount{{
			BankName:           ptr("Test Bank"),
			AccountNumber:      ptr("12345678"),
			AccountType:        &checking,
			Currency:           ptr("GBP"),
			StatementStartDate: ptr("2024-01-01"),
			StatementEndDate:   ptr("2024-01-31"),
			OpeningBalance:     ptr(1000.10),
			Transactions: []statement.Transaction{
				{Date: "2024-01-15", Description: "Coffee", Debit: ptr(3.2), Balance: ptr(996.9)},
				{Date: "2024-01-20", Description: "Salary", Credit: ptr(2000.0)},
				{Date: "2024-01-21", Description: "Note"},
			},
		}},
	}
}

func TestBuildRows(t *testing.T) {
	job := &jobs.Job{ID: "job-1"}
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	statements, transactions, err := BuildRows(job, sampleStatement(), now)
	if err != nil {
		t.Fatalf("BuildRows: %v", err)
	}
	if len(statements) != 1 || len(transactions) != 3 {
		t.Fatalf("Expected 1 statement and 3 transactions, got %d and %d", len(statements), len(transactions))
	}

	st := statements[0]
	if !st.StatementStartDate.Valid || st.StatementStartDate.Date.String() != "2024-01-01" {
		t.Errorf("Unexpected start date: %+v", st.StatementStartDate)
	}
	if st.OpeningBalance.Cmp(big.NewRat(100010, 100)) != 0 {
		t.Errorf("Expected opening balance 1000.10, got %s", st.OpeningBalance.FloatString(2))
	}
	if st.ClosingBalance != nil || st.AccountHolderName.Valid {
		t.Error("Expected missing fields to stay null")
	}
	if st.TransactionCount != 3 {
		t.Errorf("Expected transaction count 3, got %d", st.TransactionCount)
	}

	tests := []struct {
		amount    *big.Rat
		direction string
	}{
		{amount: big.NewRat(-32, 10), direction: DirectionDebit},
		{amount: big.NewRat(2000, 1), direction: DirectionCredit},
		{amount: nil, direction: ""},
	}
	for i, tt := range tests {
		row := transactions[i]
		if (tt.amount == nil) != (row.Amount == nil) || (tt.amount != nil && tt.amount.Cmp(row.Amount) != 0) {
			t.Errorf("Row %d: expected amount %v, got %v", i, tt.amount, row.Amount)
		}
		if row.Direction.Valid != (tt.direction != "") || row.Direction.StringVal != tt.direction {
			t.Errorf("Row %d: expected direction %q, got %+v", i, tt.direction, row.Direction)
		}
		if row.StatementLineNo != int64(i+1) || row.JobID != "job-1" || row.TransactionID == "" {
			t.Errorf("Row %d: unexpected identity fields %+v", i, row)
		}
	}
	if transactions[0].TransactionDate.String() != "2024-01-15" {
		t.Errorf("Unexpected date: %v", transactions[0].TransactionDate)
	}
}

func TestBuildRows_BadDate(t *testing.T) {
	data := sampleStatement()
	data.Accounts[0].Transactions[0].Date = "15/01/2024"
	if _, _, err := BuildRows(&jobs.Job{ID: "j"}, data, time.Now()); err == nil {
		t.Error("Expected error for non ISO date")
	}
}

func TestArchive(t *testing.T) {
	statements, transactions := &recordingInserter{}, &recordingInserter{}
	a := NewWithInserters(statements, transactions, zerolog.Nop())

	if err := a.Archive(context.Background(), &jobs.Job{ID: "job-1"}, sampleStatement()); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(statements.puts) != 1 || len(transactions.puts) != 1 {
		t.Fatalf("Expected one batch per table, got %d and %d", len(statements.puts), len(transactions.puts))
	}
	if rows, ok := transactions.puts[0].([]*TransactionRow); !ok || len(rows) != 3 {
		t.Errorf("Unexpected transaction batch: %#v", transactions.puts[0])
	}
}

func TestArchive_EmptyStatementWritesNothing(t *testing.T) {
	statements, transactions := &recordingInserter{}, &recordingInserter{}
	a := NewWithInserters(statements, transactions, zerolog.Nop())

	err := a.Archive(context.Background(), &jobs.Job{ID: "job-1"}, &statement.BankStatementData{FileName: "x.pdf"})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(statements.puts) != 0 || len(transactions.puts) != 0 {
		t.Error("Expected no inserts for a statement without accounts")
	}
}

func TestArchive_InsertError(t *testing.T) {
	failure := errors.New("quota")
	a := NewWithInserters(&recordingInserter{}, &recordingInserter{err: failure}, zerolog.Nop())

	err := a.Archive(context.Background(), &jobs.Job{ID: "job-1"}, sampleStatement())
	if !errors.Is(err, failure) {
		t.Errorf("Expected wrapped insert error, got %v", err)
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("Expected empty config to be disabled")
	}
	if !(Config{ProjectID: "p", DatasetID: "d"}).Enabled() {
		t.Error("Expected project and dataset to enable archiving")
	}
}
