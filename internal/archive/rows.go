package archive

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-extractor/internal/jobs"
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// Directions stored in TransactionRow.Direction.
const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

// TransactionRow is one row of the statement_transactions table.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	JobID         string `bigquery:"job_id"`         // REQUIRED
	FileName      string `bigquery:"file_name"`      // REQUIRED

	AccountNumber bigquery.NullString `bigquery:"account_number"`
	BankName      bigquery.NullString `bigquery:"bank_name"`
	AccountType   bigquery.NullString `bigquery:"account_type"`
	Currency      bigquery.NullString `bigquery:"currency"`

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Description     string     `bigquery:"description"`      // REQUIRED

	// Amount is signed: debits are negative.
	Amount       *big.Rat            `bigquery:"amount"`        // NULLABLE NUMERIC
	Direction    bigquery.NullString `bigquery:"direction"`     // NULLABLE
	BalanceAfter *big.Rat            `bigquery:"balance_after"` // NULLABLE NUMERIC

	StatementLineNo int64     `bigquery:"statement_line_no"`
	CreatedTS       time.Time `bigquery:"created_ts"`
}

// StatementRow is one row of the statement_accounts table, one per account.
type StatementRow struct {
	JobID              string              `bigquery:"job_id"`
	FileName           string              `bigquery:"file_name"`
	AccountNumber      bigquery.NullString `bigquery:"account_number"`
	AccountHolderName  bigquery.NullString `bigquery:"account_holder_name"`
	BankName           bigquery.NullString `bigquery:"bank_name"`
	AccountType        bigquery.NullString `bigquery:"account_type"`
	Currency           bigquery.NullString `bigquery:"currency"`
	StatementStartDate bigquery.NullDate   `bigquery:"statement_start_date"`
	StatementEndDate   bigquery.NullDate   `bigquery:"statement_end_date"`
	OpeningBalance     *big.Rat            `bigquery:"opening_balance"`
	ClosingBalance     *big.Rat            `bigquery:"closing_balance"`
	TransactionCount   int64               `bigquery:"transaction_count"`
	ProcessedTS        time.Time           `bigquery:"processed_ts"`
}

// BuildRows flattens a sanitized statement into warehouse rows.
func BuildRows(job *jobs.Job, data *statement.BankStatementData, now time.Time) ([]*StatementRow, []*TransactionRow, error) {
	var (
		statements   []*StatementRow
		transactions []*TransactionRow
	)
	for ai, acct := range data.Accounts {
		start, err := nullDate(acct.StatementStartDate)
		if err != nil {
			return nil, nil, fmt.Errorf("account %d: statementStartDate: %w", ai, err)
		}
		end, err := nullDate(acct.StatementEndDate)
		if err != nil {
			return nil, nil, fmt.Errorf("account %d: statementEndDate: %w", ai, err)
		}
		accountType := ""
		if acct.AccountType != nil {
			accountType = string(*acct.AccountType)
		}

		statements = append(statements, &StatementRow{
			JobID:              job.ID,
			FileName:           data.FileName,
			AccountNumber:      nullString(acct.AccountNumber),
			AccountHolderName:  nullString(acct.AccountHolderName),
			BankName:           nullString(acct.BankName),
			AccountType:        nullString(&accountType),
			Currency:           nullString(acct.Currency),
			StatementStartDate: start,
			StatementEndDate:   end,
			OpeningBalance:     rat(acct.OpeningBalance),
			ClosingBalance:     rat(acct.ClosingBalance),
			TransactionCount:   int64(len(acct.Transactions)),
			ProcessedTS:        now,
		})

		for ti, tx := range acct.Transactions {
			date, err := civil.ParseDate(tx.Date)
			if err != nil {
				return nil, nil, fmt.Errorf("account %d transaction %d: date: %w", ai, ti, err)
			}
			amount, direction := signedAmount(tx)
			transactions = append(transactions, &TransactionRow{
				TransactionID:   uuid.NewString(),
				JobID:           job.ID,
				FileName:        data.FileName,
				AccountNumber:   nullString(acct.AccountNumber),
				BankName:        nullString(acct.BankName),
				AccountType:     nullString(&accountType),
				Currency:        nullString(acct.Currency),
				TransactionDate: date,
				Description:     tx.Description,
				Amount:          amount,
				Direction:       nullString(&direction),
				BalanceAfter:    rat(tx.Balance),
				StatementLineNo: int64(ti + 1),
				CreatedTS:       now,
			})
		}
	}
	return statements, transactions, nil
}

func signedAmount(tx statement.Transaction) (*big.Rat, string) {
	switch {
	case tx.Debit != nil:
		return decimal.NewFromFloat(*tx.Debit).Abs().Neg().Rat(), DirectionDebit
	case tx.Credit != nil:
		return decimal.NewFromFloat(*tx.Credit).Rat(), DirectionCredit
	default:
		return nil, ""
	}
}

// rat converts through decimal so 0.1 is stored as 1/10, not its binary
// approximation.
func rat(f *float64) *big.Rat {
	if f == nil {
		return nil
	}
	return decimal.NewFromFloat(*f).Rat()
}

func nullString(s *string) bigquery.NullString {
	if s == nil || strings.TrimSpace(*s) == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func nullDate(s *string) (bigquery.NullDate, error) {
	if s == nil || *s == "" {
		return bigquery.NullDate{}, nil
	}
	d, err := civil.ParseDate(*s)
	if err != nil {
		return bigquery.NullDate{}, err
	}
	return bigquery.NullDate{Date: d, Valid: true}, nil
}
