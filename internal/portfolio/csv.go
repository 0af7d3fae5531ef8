// Package portfolio ingests option holdings and aggregates per-position
// risk metrics into portfolio-level exposure summaries.
package portfolio

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/quantfold/optrisk/internal/models"
)

// RowError records one rejected CSV row. Parse failures are legitimate
// rejections of bad input, reported per row rather than aborting the file.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

// LoadCSV reads holdings from a CSV file with rows of
// "symbol_or_description,quantity,market_price". A field containing
// whitespace is parsed with the verbose description grammar, anything
// else as a compact symbol. An optional header row is skipped. Bad rows
// are collected, not fatal; the returned error covers file-level failures
// only.
func LoadCSV(path string) ([]*models.OptionPosition, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening portfolio csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading portfolio csv: %w", err)
	}

	var positions []*models.OptionPosition
	var rowErrs []RowError
	for i, record := range records {
		line := i + 1
		if i == 0 && isHeaderRow(record) {
			continue
		}
		pos, err := parseRow(record)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		positions = append(positions, pos)
	}
	return positions, rowErrs, nil
}

func isHeaderRow(record []string) bool {
	if len(record) < 2 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(record[1]))
	return err != nil
}

func parseRow(record []string) (*models.OptionPosition, error) {
	if len(record) != 3 {
		return nil, fmt.Errorf("expected 3 columns, got %d", len(record))
	}

	contract := strings.TrimSpace(record[0])
	if contract == "" {
		return nil, fmt.Errorf("empty contract column")
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(record[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", record[1], err)
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid market price %q: %w", record[2], err)
	}

	if strings.ContainsAny(contract, " \t") {
		return models.ParseOptionDescription(contract, quantity, price)
	}
	return models.ParseOptionSymbol(contract, quantity, price)
}
