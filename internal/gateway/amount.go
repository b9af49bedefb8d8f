package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AmountParser extracts the minimum deposit from a hint such as
// "Amount MIN: 100.00 / MAX: 30,000.00" or "Min PHP 100".
type AmountParser struct {
	re      *regexp.Regexp
	integer bool
}

// NewAmountParser compiles pattern. The first capture group is used when the
// pattern has one, the whole match otherwise.
func NewAmountParser(pattern string, integer bool) (*AmountParser, error) {
	if pattern == "" {
		return &AmountParser{integer: integer}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid amount pattern %q: %w", pattern, err)
	}
	return &AmountParser{re: re, integer: integer}, nil
}

// Parse returns the minimum amount found in hint, formatted for an input.
func (p *AmountParser) Parse(hint string) (string, bool) {
	if p.re == nil {
		return "", false
	}
	m := p.re.FindStringSubmatch(hint)
	if m == nil {
		return "", false
	}
	raw := m[0]
	if len(m) > 1 {
		raw = m[1]
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return "", false
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", false
	}
	if p.integer {
		return strconv.FormatInt(int64(v), 10), true
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}
