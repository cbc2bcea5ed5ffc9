// Package normalize canonicalizes raw extracted tokens (item numbers,
// currency symbols, numeric strings) into comparable forms.
//
// OCR output is inconsistent across documents that describe the same order:
// item numbers gain or lose leading zeros, currencies appear as symbols on
// one document and ISO codes on another, and merged table rows put several
// unrelated numbers into a single paragraph. Everything that compares values
// across documents goes through this package first.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// CurrencyProvenance records which resolution method produced a currency code.
type CurrencyProvenance string

const (
	CurrencyFromISOCode CurrencyProvenance = "iso_code"
	CurrencyFromSymbol  CurrencyProvenance = "symbol"
	CurrencyNotFound    CurrencyProvenance = "none"
)

// CurrencyResolution is a resolved currency code plus how it was found.
type CurrencyResolution struct {
	Code   string
	Method CurrencyProvenance
}

// isoCodeRe matches the currency codes the engine recognizes, on word
// boundaries so amounts like "2,160.00" never shadow a code token.
var isoCodeRe = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CAD|AUD|CHF)\b`)

// symbolCodes maps currency symbols to ISO codes. Compound symbols must be
// checked before the bare dollar sign.
var symbolCodes = []struct {
	symbol string
	code   string
}{
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

// Currency resolves a currency code from raw text or a symbol. Resolution
// order: explicit ISO 4217 code token, then symbol mapping, then not found.
func Currency(text string) CurrencyResolution {
	if m := isoCodeRe.FindString(strings.ToUpper(text)); m != "" {
		if _, err := currency.ParseISO(m); err == nil {
			return CurrencyResolution{Code: m, Method: CurrencyFromISOCode}
		}
	}
	for _, sc := range symbolCodes {
		if strings.Contains(text, sc.symbol) {
			return CurrencyResolution{Code: sc.code, Method: CurrencyFromSymbol}
		}
	}
	return CurrencyResolution{Method: CurrencyNotFound}
}

var integerRe = regexp.MustCompile(`^[0-9]+$`)

// ItemNumber canonicalizes a raw item number for cross-document matching.
// Integer-like values lose leading zeros ("013" -> "13"); anything else is
// returned trimmed.
func ItemNumber(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !integerRe.MatchString(trimmed) {
		return trimmed
	}
	canonical := strings.TrimLeft(trimmed, "0")
	if canonical == "" {
		return "0"
	}
	return canonical
}

// amountRe matches a numeric token with optional thousands separators.
var amountRe = regexp.MustCompile(`-?[0-9][0-9,]*(?:\.[0-9]+)?`)

// percentRe matches a percentage token like "8%" or "8.25 %".
var percentRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)

// ParseAmount parses a monetary string, tolerating currency symbols, code
// suffixes, and thousands separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := s
	for _, sc := range symbolCodes {
		cleaned = strings.ReplaceAll(cleaned, sc.symbol, "")
	}
	cleaned = isoCodeRe.ReplaceAllString(strings.ToUpper(cleaned), "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	return decimal.NewFromString(cleaned)
}

// labelWindowBytes bounds how far past a label a numeric token may sit and
// still be attributed to it. Wide enough for "(8%): $2,160.00", narrow
// enough to not reach the next labeled value.
const labelWindowBytes = 40

// AmountNear returns the monetary value most plausibly associated with a
// label in free text. It windows the text immediately after each
// word-boundary occurrence of the label and takes the first amount token in
// the window, skipping percentages. This deliberately replaces "last number
// in the paragraph" heuristics, which pick up unrelated totals whenever OCR
// merges table rows into one paragraph.
func AmountNear(label, text string) (decimal.Decimal, bool) {
	labelRe, err := labelPattern(label)
	if err != nil {
		return decimal.Zero, false
	}
	for _, loc := range labelRe.FindAllStringIndex(text, -1) {
		window := windowAfter(text, loc[1])
		if amount, ok := firstAmount(window); ok {
			return amount, true
		}
	}
	return decimal.Zero, false
}

// PercentNear returns the first percentage token in the window after a label,
// as a 0-100 scale value.
func PercentNear(label, text string) (decimal.Decimal, bool) {
	labelRe, err := labelPattern(label)
	if err != nil {
		return decimal.Zero, false
	}
	for _, loc := range labelRe.FindAllStringIndex(text, -1) {
		window := windowAfter(text, loc[1])
		if m := percentRe.FindStringSubmatch(window); m != nil {
			if rate, err := decimal.NewFromString(m[1]); err == nil {
				return rate, true
			}
		}
	}
	return decimal.Zero, false
}

func labelPattern(label string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(label)) + `\b`)
}

func windowAfter(text string, start int) string {
	end := start + labelWindowBytes
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// firstAmount finds the first amount token in a window, skipping tokens that
// turn out to be percentages ("8" in "8%").
func firstAmount(window string) (decimal.Decimal, bool) {
	for _, loc := range amountRe.FindAllStringIndex(window, -1) {
		rest := strings.TrimLeft(window[loc[1]:], " ")
		if strings.HasPrefix(rest, "%") {
			continue
		}
		if amount, err := ParseAmount(window[loc[0]:loc[1]]); err == nil {
			return amount, true
		}
	}
	return decimal.Zero, false
}
