package validation

import (
	"github.com/dvloznov/statement-extractor/internal/statement"
)

// AggregateAccounts merges accounts that share a non-empty account number.
// Models frequently split one account across pages; the merged account keeps
// first-appearance order, concatenates transactions, keeps the first non-null
// scalar, widens the statement period and takes the opening balance from the
// first fragment and the closing balance from the last.
// Accounts without a number are never merged.
func AggregateAccounts(accounts []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(accounts))
	byNumber := make(map[string]map[string]any)

	for _, account := range accounts {
		number, _ := account[statement.KeyAccountNumber].(string)
		if number == "" {
			out = append(out, account)
			continue
		}
		existing, seen := byNumber[number]
		if !seen {
			merged := make(map[string]any, len(account))
			for k, v := range account {
				merged[k] = v
			}
			byNumber[number] = merged
			out = append(out, merged)
			continue
		}
		mergeInto(existing, account)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		switch k {
		case statement.KeyTransactions:
			a, _ := dst[k].([]any)
			b, _ := src[k].([]any)
			combined := make([]any, 0, len(a)+len(b))
			combined = append(combined, a...)
			dst[k] = append(combined, b...)
		case statement.KeyStatementStartDate:
			dst[k] = pickDate(dst[k], v, func(a, b string) bool { return b < a })
		case statement.KeyStatementEndDate:
			dst[k] = pickDate(dst[k], v, func(a, b string) bool { return b > a })
		case statement.KeyClosingBalance:
			if v != nil {
				dst[k] = v
			}
		default:
			if dst[k] == nil {
				dst[k] = v
			}
		}
	}
}

// pickDate returns b when a is unset or better(a, b) holds. ISO dates compare
// correctly as strings.
func pickDate(a, b any, better func(a, b string) bool) any {
	as, aok := a.(string)
	bs, bok := b.(string)
	switch {
	case !bok:
		return a
	case !aok:
		return b
	case better(as, bs):
		return b
	default:
		return a
	}
}
