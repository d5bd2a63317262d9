package validation

import (
	"fmt"
	"strings"

	"github.com/dvloznov/statement-extractor/internal/statement"
)

// ValidateExclusivity fails when debit and credit are both non-null. It expects
// already normalized values.
func ValidateExclusivity(tx map[string]any) error {
	debit, credit := tx[statement.KeyDebit], tx[statement.KeyCredit]
	if debit != nil && credit != nil {
		return fieldErr("", ReasonDebitCreditConflict,
			fmt.Sprintf("debit and credit cannot both be set (debit=%v, credit=%v)", debit, credit))
	}
	return nil
}

// ValidateTransaction normalizes a single transaction object. It does not stop
// at the first problem: every failure is collected into the returned Errors.
// On success the result is a copy of tx with date, description and amounts
// canonicalized; unknown keys are carried over untouched.
func ValidateTransaction(input any) (map[string]any, error) {
	tx, ok := asObject(input)
	if !ok {
		return nil, Errors{fieldErr("", ReasonInvalidType, fmt.Sprintf("transaction must be an object, got %T", input))}
	}

	out := make(map[string]any, len(tx))
	for k, v := range tx {
		out[k] = v
	}
	var errs Errors

	date, err := NormalizeDate(tx[statement.KeyDate])
	switch {
	case err != nil:
		errs = append(errs, under(statement.KeyDate, err)...)
	case date == nil:
		errs = append(errs, fieldErr(statement.KeyDate, ReasonMissingField, "date is required"))
	default:
		out[statement.KeyDate] = *date
	}

	switch desc := tx[statement.KeyDescription].(type) {
	case string:
		if trimmed := strings.TrimSpace(desc); trimmed != "" {
			out[statement.KeyDescription] = trimmed
		} else {
			errs = append(errs, fieldErr(statement.KeyDescription, ReasonMissingField, "description is required"))
		}
	case nil:
		errs = append(errs, fieldErr(statement.KeyDescription, ReasonMissingField, "description is required"))
	default:
		errs = append(errs, fieldErr(statement.KeyDescription, ReasonInvalidType,
			fmt.Sprintf("description must be a string, got %T", desc)))
	}

	amountsOK := true
	for _, key := range []string{statement.KeyDebit, statement.KeyCredit, statement.KeyBalance} {
		amount, err := NormalizeAmount(tx[key])
		if err != nil {
			errs = append(errs, under(key, err)...)
			amountsOK = false
			continue
		}
		out[key] = floatOrNil(amount)
	}

	if amountsOK {
		if err := ValidateExclusivity(out); err != nil {
			errs = append(errs, AsErrors(err)...)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// ValidateAccountTransactions validates every element of a transaction
// sequence. Failures are reported with their index, e.g. "[2].date".
func ValidateAccountTransactions(input any) ([]any, error) {
	if input == nil {
		return nil, Errors{fieldErr("", ReasonMissingField, "transactions are required")}
	}
	items, ok := asList(input)
	if !ok {
		return nil, Errors{fieldErr("", ReasonInvalidType, fmt.Sprintf("transactions must be an array, got %T", input))}
	}

	out := make([]any, 0, len(items))
	var errs Errors
	for i, item := range items {
		tx, err := ValidateTransaction(item)
		if err != nil {
			errs = append(errs, under(fmt.Sprintf("[%d]", i), err)...)
			continue
		}
		out = append(out, tx)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}
