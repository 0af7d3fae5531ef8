package portfolio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optrisk/internal/models"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "positions.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV_MixedGrammars(t *testing.T) {
	path := writeCSV(t, `contract,quantity,market_price
-AMAT250516P130,-3,7.50
"AMAT May 16 2025 $130.00 Put",-3,7.50
SPY241220C450,2,12.25
`)

	positions, rowErrs, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, positions, 3)

	// Compact symbol and verbose description yield the same record.
	assert.Equal(t, positions[0].Underlying, positions[1].Underlying)
	assert.Equal(t, positions[0].Strike, positions[1].Strike)
	assert.Equal(t, positions[0].Expiration, positions[1].Expiration)
	assert.Equal(t, positions[0].Type, positions[1].Type)

	assert.Equal(t, "SPY", positions[2].Underlying)
	assert.Equal(t, 450.0, positions[2].Strike)
	assert.Equal(t, models.Call, positions[2].Type)
	assert.Equal(t, 2, positions[2].Quantity)
	assert.Equal(t, 12.25, positions[2].CurrentPrice)
}

func TestLoadCSV_NoHeader(t *testing.T) {
	path := writeCSV(t, "SPY241220C450,2,12.25\n")

	positions, rowErrs, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	assert.Len(t, positions, 1)
}

func TestLoadCSV_BadRowsCollected(t *testing.T) {
	path := writeCSV(t, `contract,quantity,market_price
SPY241220C450,2,12.25
NODATE,1,5.0
SPY241220C450,two,12.25
SPY241220C450,2
TSLA260115P200,-1,30.10
`)

	positions, rowErrs, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Len(t, positions, 2)
	require.Len(t, rowErrs, 3)

	assert.Equal(t, 3, rowErrs[0].Line)
	assert.Contains(t, rowErrs[0].Error(), "row 3")
	assert.Equal(t, 4, rowErrs[1].Line)
	assert.Contains(t, rowErrs[1].Err.Error(), "quantity")
	assert.Equal(t, 5, rowErrs[2].Line)
	assert.Contains(t, rowErrs[2].Err.Error(), "3 columns")
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, _, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening portfolio csv")
}

func TestLoadCSV_EmptyContract(t *testing.T) {
	path := writeCSV(t, `contract,quantity,market_price
,1,5.0
`)
	positions, rowErrs, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Empty(t, positions)
	require.Len(t, rowErrs, 1)
	assert.Contains(t, rowErrs[0].Err.Error(), "empty contract")
}
