// Package symbol handles ticker symbol normalization and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches plain equity tickers after normalization: 1-12
// uppercase letters/digits with optional dot or dash segments, e.g.
// "AMZN", "BRK.B", "RDS-A".
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,12}([.\-][A-Z0-9]{1,6})?$`)

// ErrInvalidSymbol is returned for empty or malformed ticker symbols.
var ErrInvalidSymbol = errors.New("symbol: invalid ticker symbol")

// Normalize trims whitespace, uppercases, and validates a ticker symbol.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return s, nil
}
