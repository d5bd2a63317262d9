// Package export renders a processed statement as an XLSX workbook with one
// sheet for accounts and one for transactions.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-extractor/internal/statement"
)

// Sheet names in the produced workbook.
const (
	AccountsSheet     = "Accounts"
	TransactionsSheet = "Transactions"
)

// ContentType is the MIME type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var accountHeaders = []string{
	"Account Number",
	"Account Holder",
	"Bank",
	"Type",
	"Currency",
	"Statement Start",
	"Statement End",
	"Opening Balance",
	"Closing Balance",
	"Transactions",
}

var transactionHeaders = []string{
	"Account Number",
	"Date",
	"Description",
	"Debit",
	"Credit",
	"Balance",
}

// StatementXLSX returns the workbook bytes for data.
func StatementXLSX(data *statement.BankStatementData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it so no empty sheet is left behind.
	if err := f.SetSheetName(f.GetSheetName(0), AccountsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(TransactionsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	if err := writeRow(f, AccountsSheet, 1, toAny(accountHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, TransactionsSheet, 1, toAny(transactionHeaders)); err != nil {
		return nil, err
	}

	txRow := 2
	for i, acct := range data.Accounts {
		number := str(acct.AccountNumber)
		accountType := ""
		if acct.AccountType != nil {
			accountType = string(*acct.AccountType)
		}
		err := writeRow(f, AccountsSheet, i+2, []any{
			number,
			str(acct.AccountHolderName),
			str(acct.BankName),
			accountType,
			str(acct.Currency),
			str(acct.StatementStartDate),
			str(acct.StatementEndDate),
			num(acct.OpeningBalance),
			num(acct.ClosingBalance),
			len(acct.Transactions),
		})
		if err != nil {
			return nil, err
		}

		for _, tx := range acct.Transactions {
			err := writeRow(f, TransactionsSheet, txRow, []any{
				number,
				tx.Date,
				tx.Description,
				num(tx.Debit),
				num(tx.Credit),
				num(tx.Balance),
			})
			if err != nil {
				return nil, err
			}
			txRow++
		}
	}

	_ = f.SetColWidth(AccountsSheet, "A", "C", 22)
	_ = f.SetColWidth(AccountsSheet, "F", "G", 14)
	_ = f.SetColWidth(TransactionsSheet, "A", "A", 18)
	_ = f.SetColWidth(TransactionsSheet, "B", "B", 12)
	_ = f.SetColWidth(TransactionsSheet, "C", "C", 48)

	if idx, err := f.GetSheetIndex(TransactionsSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// num leaves the cell empty for nil so debit and credit columns stay sparse.
func num(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
