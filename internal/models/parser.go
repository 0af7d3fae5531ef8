package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a rejected option symbol or description. Bad input is
// surfaced to the caller, never silently defaulted: a wrongly-parsed
// contract corrupts every downstream exposure figure.
type ParseError struct {
	Input string
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %q: %s (%s)", e.Input, e.Msg, e.Field)
}

func parseError(input, field, msg string) *ParseError {
	return &ParseError{Input: input, Field: field, Msg: msg}
}

// monthAbbrevs maps three-letter month abbreviations (upper case) used by
// the verbose description grammar.
var monthAbbrevs = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseOptionSymbol parses a compact option symbol such as
// "-AMAT250516P130" or "AMAT250516P1325" into a position record.
//
// Layout: [-]TICKER YYMMDD {P|C} STRIKE. A leading dash is historical
// cosmetics and is discarded; direction comes from the caller-supplied
// quantity. Strike digits of three or fewer are whole dollars; longer
// runs carry an implied two-decimal fixed point ("1325" -> 13.25).
//
// The optional description overrides the default of the original symbol.
func ParseOptionSymbol(symbol string, quantity int, currentPrice float64, description ...string) (*OptionPosition, error) {
	s := strings.TrimPrefix(symbol, "-")

	// Locate the first digit; everything before it is the ticker.
	dateStart := -1
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			dateStart = i
			break
		}
	}
	if dateStart < 0 {
		return nil, parseError(symbol, "date", "no date part")
	}
	if dateStart == 0 {
		return nil, parseError(symbol, "underlying", "no ticker before date")
	}
	ticker := s[:dateStart]

	// Locate the option-type marker after the date digits.
	rel := strings.IndexAny(s[dateStart:], "PpCc")
	if rel < 0 {
		return nil, parseError(symbol, "type", "no option type")
	}
	typeIdx := dateStart + rel
	optType := Put
	if s[typeIdx] == 'C' || s[typeIdx] == 'c' {
		optType = Call
	}

	expiry, err := parseCompactDate(symbol, s[dateStart:typeIdx])
	if err != nil {
		return nil, err
	}

	strike, err := parseCompactStrike(symbol, s[typeIdx+1:])
	if err != nil {
		return nil, err
	}

	desc := symbol
	if len(description) > 0 && description[0] != "" {
		desc = description[0]
	}

	return &OptionPosition{
		Underlying:   ticker,
		Expiration:   expiry,
		Strike:       strike,
		Type:         optType,
		Quantity:     quantity,
		CurrentPrice: math.Abs(currentPrice),
		Description:  desc,
	}, nil
}

// parseCompactDate interprets the digits between ticker and type marker as
// YYMMDD with the year offset from 2000.
func parseCompactDate(symbol, datePart string) (time.Time, error) {
	if len(datePart) < 6 {
		return time.Time{}, parseError(symbol, "date", "date too short")
	}
	yy, err := strconv.Atoi(datePart[0:2])
	if err != nil {
		return time.Time{}, parseError(symbol, "date", "non-numeric year")
	}
	mm, err := strconv.Atoi(datePart[2:4])
	if err != nil {
		return time.Time{}, parseError(symbol, "date", "non-numeric month")
	}
	dd, err := strconv.Atoi(datePart[4:6])
	if err != nil {
		return time.Time{}, parseError(symbol, "date", "non-numeric day")
	}
	return makeExpiry(symbol, 2000+yy, time.Month(mm), dd)
}

// parseCompactStrike applies the fixed-point strike convention: three or
// fewer characters are whole dollars, otherwise the last two characters
// are cents.
func parseCompactStrike(symbol, strikePart string) (float64, error) {
	if strikePart == "" {
		return 0, parseError(symbol, "strike", "no strike digits")
	}
	raw := strikePart
	if len(raw) > 3 {
		raw = raw[:len(raw)-2] + "." + raw[len(raw)-2:]
	}
	strike, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, parseError(symbol, "strike", "non-numeric strike")
	}
	if strike <= 0 {
		return 0, parseError(symbol, "strike", "strike must be positive")
	}
	return strike, nil
}

// ParseOptionDescription parses a verbose contract description such as
// "AAPL JAN 20 2023 $150 CALL": exactly six whitespace-separated tokens
// for ticker, month abbreviation, day, year, dollar-prefixed strike, and
// option type. The original text is preserved verbatim as Description.
func ParseOptionDescription(desc string, quantity int, currentPrice float64) (*OptionPosition, error) {
	fields := strings.Fields(desc)
	if len(fields) != 6 {
		return nil, parseError(desc, "description", fmt.Sprintf("expected 6 tokens, got %d", len(fields)))
	}

	ticker := fields[0]

	month, ok := monthAbbrevs[strings.ToUpper(fields[1])]
	if !ok {
		return nil, parseError(desc, "month", fmt.Sprintf("unrecognized month %q", fields[1]))
	}

	day, err := strconv.Atoi(fields[2])
	if err != nil || day < 1 || day > 31 {
		return nil, parseError(desc, "day", fmt.Sprintf("day %q out of range 1-31", fields[2]))
	}

	year, err := strconv.Atoi(fields[3])
	if err != nil || year < 2000 || year > 2100 {
		return nil, parseError(desc, "year", fmt.Sprintf("year %q out of range 2000-2100", fields[3]))
	}

	if !strings.HasPrefix(fields[4], "$") {
		return nil, parseError(desc, "strike", "strike must start with $")
	}
	strike, err := strconv.ParseFloat(fields[4][1:], 64)
	if err != nil {
		return nil, parseError(desc, "strike", fmt.Sprintf("non-numeric strike %q", fields[4]))
	}
	if strike <= 0 {
		return nil, parseError(desc, "strike", "strike must be positive")
	}

	var optType OptionType
	switch strings.ToUpper(fields[5]) {
	case string(Call):
		optType = Call
	case string(Put):
		optType = Put
	default:
		return nil, parseError(desc, "type", fmt.Sprintf("unrecognized option type %q", fields[5]))
	}

	expiry, err := makeExpiry(desc, year, month, day)
	if err != nil {
		return nil, err
	}

	return &OptionPosition{
		Underlying:   ticker,
		Expiration:   expiry,
		Strike:       strike,
		Type:         optType,
		Quantity:     quantity,
		CurrentPrice: math.Abs(currentPrice),
		Description:  desc,
	}, nil
}

// makeExpiry builds a day-granularity UTC date and rejects impossible
// calendar dates (month 13, Feb 30) that time.Date would normalize away.
func makeExpiry(input string, year int, month time.Month, day int) (time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, parseError(input, "date", fmt.Sprintf("month %d out of range", int(month)))
	}
	if day < 1 || day > 31 {
		return time.Time{}, parseError(input, "date", fmt.Sprintf("day %d out of range", day))
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, parseError(input, "date", fmt.Sprintf("impossible calendar date %d-%02d-%02d", year, int(month), day))
	}
	return t, nil
}
