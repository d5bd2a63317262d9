package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	// D/M/YYYY, D-M-YYYY, D.M.YYYY with a consistent separator. Day comes first,
	// which is how bank statements outside the US print dates.
	dayFirstPattern  = regexp.MustCompile(`^(\d{1,2})([/.-])(\d{1,2})([/.-])(\d{4})$`)
	yearFirstPattern = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
)

// NormalizeDate converts a date in one of the accepted textual forms to
// YYYY-MM-DD. nil and empty strings are valid and yield nil.
func NormalizeDate(input any) (*string, error) {
	if input == nil {
		return nil, nil
	}
	s, ok := input.(string)
	if !ok {
		return nil, fieldErr("", ReasonInvalidDate, fmt.Sprintf("date must be a string, got %T", input))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if isoDatePattern.MatchString(s) {
		if _, err := civil.ParseDate(s); err != nil {
			return nil, invalidDate(s)
		}
		return &s, nil
	}

	var year, month, day string
	if m := dayFirstPattern.FindStringSubmatch(s); m != nil && m[2] == m[4] {
		day, month, year = m[1], m[3], m[5]
	} else if m := yearFirstPattern.FindStringSubmatch(s); m != nil {
		year, month, day = m[1], m[2], m[3]
	} else {
		return nil, invalidDate(s)
	}

	d, ok := buildDate(year, month, day)
	if !ok {
		return nil, invalidDate(s)
	}
	out := d.String()
	return &out, nil
}

func buildDate(year, month, day string) (civil.Date, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return civil.Date{}, false
	}
	date := civil.Date{Year: y, Month: time.Month(m), Day: d}
	return date, date.IsValid()
}

func invalidDate(s string) *FieldError {
	return fieldErr("", ReasonInvalidDate, fmt.Sprintf("invalid date %q", s))
}
