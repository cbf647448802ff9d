// Package phone normalizes patient phone numbers into a single canonical
// E.164 form so that the same subscriber always compares equal regardless of
// how the number was typed.
package phone

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultCountryCode is the calling code applied to national-format numbers.
const DefaultCountryCode = "254"

// nationalLength is the subscriber number length after the trunk prefix.
const nationalLength = 9

// ErrInvalid is returned when a value cannot be normalized.
var ErrInvalid = errors.New("invalid phone number")

// Number is a phone number in canonical E.164 form, e.g. "+254712345678".
type Number string

// String implements fmt.Stringer.
func (n Number) String() string {
	return string(n)
}

// Digits returns the number without the leading plus.
func (n Number) Digits() string {
	return strings.TrimPrefix(string(n), "+")
}

// IsZero reports whether the number is empty.
func (n Number) IsZero() bool {
	return n == ""
}

// MarshalText implements encoding.TextMarshaler.
func (n Number) MarshalText() ([]byte, error) {
	return []byte(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Input is normalized
// with the default country code.
func (n *Number) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = ""
		return nil
	}
	num, err := Normalize(string(text))
	if err != nil {
		return err
	}
	*n = num
	return nil
}

// Scan implements sql.Scanner.
func (n *Number) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*n = ""
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("phone: cannot scan %T", src)
	}
	num, err := Normalize(raw)
	if err != nil {
		return err
	}
	*n = num
	return nil
}

// Value implements driver.Valuer.
func (n Number) Value() (driver.Value, error) {
	if n == "" {
		return nil, nil
	}
	return string(n), nil
}

// Normalize converts raw user input into canonical form using
// DefaultCountryCode.
func Normalize(raw string) (Number, error) {
	return NormalizeWithCountry(raw, DefaultCountryCode)
}

// NormalizeWithCountry converts raw user input into canonical form. All
// formatting characters are dropped. A leading "00" is read as "+". National
// numbers with a trunk zero, bare subscriber numbers and numbers already
// carrying countryCode all converge on "+<countryCode><subscriber>".
func NormalizeWithCountry(raw, countryCode string) (Number, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	international := strings.HasPrefix(trimmed, "+")

	digits := make([]byte, 0, len(trimmed))
	for _, r := range trimmed {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			digits = append(digits, byte(r))
		}
	}
	d := string(digits)
	if strings.HasPrefix(d, "00") && !international {
		d = d[2:]
		international = true
	}

	switch {
	case strings.HasPrefix(d, countryCode) && len(d) == len(countryCode)+nationalLength:
		return Number("+" + d), nil
	case !international && len(d) == nationalLength+1 && d[0] == '0':
		return Number("+" + countryCode + d[1:]), nil
	case !international && len(d) == nationalLength && d[0] != '0':
		return Number("+" + countryCode + d), nil
	case international && len(d) >= 8 && len(d) <= 15 && d[0] != '0':
		return Number("+" + d), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
}

// MustNormalize is like Normalize but panics on error. Intended for tests
// and constants.
func MustNormalize(raw string) Number {
	n, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return n
}
