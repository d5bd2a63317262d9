package validation

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name       string
		input      any
		want       float64
		wantNil    bool
		wantReason Reason
	}{
		{name: "nil", input: nil, wantNil: true},
		{name: "empty string", input: "", wantNil: true},
		{name: "whitespace only", input: " \t ", wantNil: true},
		{name: "float", input: 12.5, want: 12.5},
		{name: "int", input: 7, want: 7},
		{name: "negative float", input: -3.25, want: -3.25},
		{name: "json number", input: json.Number("99.99"), want: 99.99},
		{name: "dollar with separators", input: "$1,234.56", want: 1234.56},
		{name: "pound", input: "£50", want: 50},
		{name: "euro with spaces", input: " € 1 000.00 ", want: 1000},
		{name: "rupee", input: "₹2,50,000.75", want: 250000.75},
		{name: "yen", input: "¥300", want: 300},
		{name: "parenthesized negative", input: "(1,234.56)", want: -1234.56},
		{name: "leading minus", input: "-42.10", want: -42.10},
		{name: "non breaking space", input: "1\u00a0234.00", want: 1234},
		{name: "positive infinity", input: math.Inf(1), wantReason: ReasonInvalidAmount},
		{name: "nan", input: math.NaN(), wantReason: ReasonInvalidAmount},
		{name: "garbage string", input: "abc", wantReason: ReasonInvalidAmount},
		{name: "symbol only", input: "$", wantReason: ReasonInvalidAmount},
		{name: "bool", input: true, wantReason: ReasonInvalidType},
		{name: "object", input: map[string]any{"v": 1}, wantReason: ReasonInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAmount(tt.input)
			if tt.wantReason != "" {
				fe, ok := err.(*FieldError)
				if !ok {
					t.Fatalf("NormalizeAmount(%v) error = %v, want %s", tt.input, err, tt.wantReason)
				}
				if fe.Reason != tt.wantReason {
					t.Errorf("reason = %s, want %s", fe.Reason, tt.wantReason)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAmount(%v) unexpected error: %v", tt.input, err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("NormalizeAmount(%v) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || math.Abs(*got-tt.want) > 1e-9 {
				t.Errorf("NormalizeAmount(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
