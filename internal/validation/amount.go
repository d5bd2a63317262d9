package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var amountStripper = strings.NewReplacer(
	"$", "", "£", "", "€", "", "¥", "", "₹", "",
	",", "", " ", "", "\u00a0", "",
)

// NormalizeAmount converts a monetary value to a finite float64. nil and empty
// strings are valid and yield nil. Strings may carry currency symbols,
// thousands separators and accounting parentheses, which mark a negative value.
func NormalizeAmount(input any) (*float64, error) {
	var f float64
	switch v := input.(type) {
	case nil:
		return nil, nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fieldErr("", ReasonInvalidAmount, fmt.Sprintf("invalid amount %q", v.String()))
		}
		f = parsed
	case string:
		return parseAmountString(v)
	default:
		return nil, fieldErr("", ReasonInvalidType, fmt.Sprintf("amount must be a number or string, got %T", input))
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fieldErr("", ReasonInvalidAmount, fmt.Sprintf("amount must be finite, got %v", f))
	}
	return &f, nil
}

func parseAmountString(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = amountStripper.Replace(s)
	if s == "" {
		return nil, fieldErr("", ReasonInvalidAmount, fmt.Sprintf("invalid amount %q", raw))
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fieldErr("", ReasonInvalidAmount, fmt.Sprintf("invalid amount %q", raw))
	}
	if negative {
		d = d.Abs().Neg()
	}
	f := d.InexactFloat64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fieldErr("", ReasonInvalidAmount, fmt.Sprintf("amount out of range %q", raw))
	}
	return &f, nil
}
