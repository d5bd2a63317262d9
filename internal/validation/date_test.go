package validation

import "testing"

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantNil bool
		wantErr bool
	}{
		{name: "nil", input: nil, wantNil: true},
		{name: "empty string", input: "", wantNil: true},
		{name: "whitespace only", input: "   ", wantNil: true},
		{name: "iso unchanged", input: "2024-03-15", want: "2024-03-15"},
		{name: "iso leap day", input: "2024-02-29", want: "2024-02-29"},
		{name: "iso not a leap year", input: "2023-02-29", wantErr: true},
		{name: "iso month 13", input: "2024-13-01", wantErr: true},
		{name: "day first slash", input: "5/3/2024", want: "2024-03-05"},
		{name: "day first dash", input: "15-03-2024", want: "2024-03-15"},
		{name: "day first dot", input: "01.12.2023", want: "2023-12-01"},
		{name: "year first slash", input: "2024/3/5", want: "2024-03-05"},
		{name: "mixed separators", input: "15/03-2024", wantErr: true},
		{name: "month 13 day first", input: "01/13/2024", wantErr: true},
		{name: "day 32", input: "32/01/2024", wantErr: true},
		{name: "free text", input: "March 5th", wantErr: true},
		{name: "two digit year", input: "05/03/24", wantErr: true},
		{name: "number", input: 20240315.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeDate(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				fe, ok := err.(*FieldError)
				if !ok || fe.Reason != ReasonInvalidDate {
					t.Errorf("expected InvalidDate field error, got %#v", err)
				}
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("NormalizeDate(%v) = %q, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("NormalizeDate(%v) = %v, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeDate_Idempotent(t *testing.T) {
	inputs := []string{"2024-01-31", "31/1/2024", "31-01-2024", "2024/1/31", "31.01.2024", "29/02/2024"}
	for _, in := range inputs {
		first, err := NormalizeDate(in)
		if err != nil || first == nil {
			t.Fatalf("NormalizeDate(%q) = %v, %v", in, first, err)
		}
		second, err := NormalizeDate(*first)
		if err != nil || second == nil {
			t.Fatalf("NormalizeDate(%q) second pass = %v, %v", *first, second, err)
		}
		if *first != *second {
			t.Errorf("not idempotent for %q: %q then %q", in, *first, *second)
		}
	}
}
