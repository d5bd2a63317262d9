package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/statement-extractor/internal/statement"
)

var accountStringKeys = []string{
	statement.KeyBankName,
	statement.KeyAccountHolderName,
	statement.KeyAccountNumber,
	statement.KeyCurrency,
}

// ValidateStatementPayload checks the top-level BankStatementData contract and
// normalizes every account. On success the accounts have also been aggregated
// (see AggregateAccounts).
func ValidateStatementPayload(input any) (map[string]any, error) {
	payload, ok := asObject(input)
	if !ok {
		return nil, Errors{fieldErr("", ReasonInvalidType, fmt.Sprintf("payload must be an object, got %T", input))}
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	var errs Errors

	if name, ok := payload[statement.KeyFileName].(string); ok && strings.TrimSpace(name) != "" {
		out[statement.KeyFileName] = strings.TrimSpace(name)
	} else {
		errs = append(errs, fieldErr(statement.KeyFileName, ReasonMissingField, "fileName is required"))
	}

	rawAccounts, present := payload[statement.KeyAccounts]
	items, isList := asList(rawAccounts)
	switch {
	case !present || rawAccounts == nil:
		errs = append(errs, fieldErr(statement.KeyAccounts, ReasonMissingField, "accounts are required"))
	case !isList:
		errs = append(errs, fieldErr(statement.KeyAccounts, ReasonInvalidType,
			fmt.Sprintf("accounts must be an array, got %T", rawAccounts)))
	default:
		accounts := make([]map[string]any, 0, len(items))
		for i, item := range items {
			account, err := validateAccount(item)
			if err != nil {
				errs = append(errs, under(fmt.Sprintf("%s[%d]", statement.KeyAccounts, i), err)...)
				continue
			}
			accounts = append(accounts, account)
		}
		merged := AggregateAccounts(accounts)
		list := make([]any, len(merged))
		for i, a := range merged {
			list[i] = a
		}
		out[statement.KeyAccounts] = list
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func validateAccount(input any) (map[string]any, error) {
	account, ok := asObject(input)
	if !ok {
		return nil, Errors{fieldErr("", ReasonInvalidType, fmt.Sprintf("account must be an object, got %T", input))}
	}

	out := make(map[string]any, len(account))
	for k, v := range account {
		out[k] = v
	}
	var errs Errors

	txs, err := ValidateAccountTransactions(account[statement.KeyTransactions])
	if err != nil {
		errs = append(errs, under(statement.KeyTransactions, err)...)
	} else {
		out[statement.KeyTransactions] = txs
	}

	for _, key := range []string{statement.KeyOpeningBalance, statement.KeyClosingBalance} {
		amount, err := NormalizeAmount(account[key])
		if err != nil {
			errs = append(errs, under(key, err)...)
			continue
		}
		out[key] = floatOrNil(amount)
	}

	for _, key := range []string{statement.KeyStatementStartDate, statement.KeyStatementEndDate} {
		date, err := NormalizeDate(account[key])
		if err != nil {
			errs = append(errs, under(key, err)...)
			continue
		}
		if date == nil {
			out[key] = nil
		} else {
			out[key] = *date
		}
	}

	for _, key := range accountStringKeys {
		s, err := optionalString(account[key])
		if err != nil {
			errs = append(errs, under(key, err)...)
			continue
		}
		if s != nil && key == statement.KeyCurrency {
			upper := strings.ToUpper(*s)
			s = &upper
		}
		if s == nil {
			out[key] = nil
		} else {
			out[key] = *s
		}
	}

	switch raw := account[statement.KeyAccountType].(type) {
	case nil:
		out[statement.KeyAccountType] = nil
	case string:
		if strings.TrimSpace(raw) == "" {
			out[statement.KeyAccountType] = nil
		} else if t, ok := statement.ParseAccountType(raw); ok {
			out[statement.KeyAccountType] = string(t)
		} else {
			errs = append(errs, fieldErr(statement.KeyAccountType, ReasonInvalidAccountType,
				fmt.Sprintf("accountType %q is not one of %v", raw, statement.AccountTypes)))
		}
	default:
		errs = append(errs, fieldErr(statement.KeyAccountType, ReasonInvalidAccountType,
			fmt.Sprintf("accountType must be a string, got %T", raw)))
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// optionalString accepts strings and plain numbers (account numbers are often
// emitted as JSON numbers). Empty strings become nil.
func optionalString(v any) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		return &s, nil
	default:
		return nil, fieldErr("", ReasonInvalidType, fmt.Sprintf("must be a string, got %T", v))
	}
}
