// Package sanitize projects stored processed data onto the public statement
// types. Only recognized fields survive; anything else, including internal
// diagnostics, is dropped.
package sanitize

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/dvloznov/statement-extractor/internal/statement"
)

// Statement projects data onto BankStatementData. Recognized fields with an
// unexpected type become null. The accounts slice is never nil.
func Statement(data map[string]any) *statement.BankStatementData {
	out := &statement.BankStatementData{Accounts: []statement.BankAccount{}}
	if data == nil {
		return out
	}
	if s := stringField(data, statement.KeyFileName); s != nil {
		out.FileName = *s
	}
	for _, raw := range listField(data, statement.KeyAccounts) {
		if account, ok := raw.(map[string]any); ok {
			out.Accounts = append(out.Accounts, bankAccount(account))
		}
	}
	return out
}

func bankAccount(m map[string]any) statement.BankAccount {
	a := statement.BankAccount{
		BankName:           stringField(m, statement.KeyBankName),
		AccountHolderName:  stringField(m, statement.KeyAccountHolderName),
		AccountNumber:      stringField(m, statement.KeyAccountNumber),
		Currency:           stringField(m, statement.KeyCurrency),
		StatementStartDate: stringField(m, statement.KeyStatementStartDate),
		StatementEndDate:   stringField(m, statement.KeyStatementEndDate),
		OpeningBalance:     numberField(m, statement.KeyOpeningBalance),
		ClosingBalance:     numberField(m, statement.KeyClosingBalance),
		Transactions:       []statement.Transaction{},
	}
	if s := stringField(m, statement.KeyAccountType); s != nil {
		if t, ok := statement.ParseAccountType(*s); ok {
			a.AccountType = &t
		}
	}
	for _, raw := range listField(m, statement.KeyTransactions) {
		if tx, ok := raw.(map[string]any); ok {
			a.Transactions = append(a.Transactions, transaction(tx))
		}
	}
	return a
}

func transaction(m map[string]any) statement.Transaction {
	tx := statement.Transaction{
		Debit:   numberField(m, statement.KeyDebit),
		Credit:  numberField(m, statement.KeyCredit),
		Balance: numberField(m, statement.KeyBalance),
	}
	if s := stringField(m, statement.KeyDate); s != nil {
		tx.Date = *s
	}
	if s := stringField(m, statement.KeyDescription); s != nil {
		tx.Description = *s
	}
	return tx
}

func stringField(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func numberField(m map[string]any, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func listField(m map[string]any, key string) []any {
	switch v := m[key].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	}
	return nil
}
