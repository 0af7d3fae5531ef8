// Package marketdata supplies spot prices for underlyings. The engine
// itself never does I/O; everything network-facing lives here.
package marketdata

import (
	"context"
	"fmt"
	"sync"
)

// Provider supplies per-underlying spot prices, keyed by ticker.
//
// Implementations must be safe for concurrent use: batch valuation calls
// GetSpot from multiple goroutines.
type Provider interface {
	GetSpot(ctx context.Context, symbol string) (float64, error)
}

// StaticProvider serves spot prices from an in-memory table. It backs
// offline runs and tests.
type StaticProvider struct {
	mu    sync.RWMutex
	spots map[string]float64
}

// NewStaticProvider copies the given spot table.
func NewStaticProvider(spots map[string]float64) *StaticProvider {
	m := make(map[string]float64, len(spots))
	for k, v := range spots {
		m[k] = v
	}
	return &StaticProvider{spots: m}
}

// GetSpot returns the seeded spot price for symbol.
func (p *StaticProvider) GetSpot(_ context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	spot, ok := p.spots[symbol]
	if !ok {
		return 0, fmt.Errorf("no spot price for %s", symbol)
	}
	return spot, nil
}

// SetSpot updates one symbol's spot price.
func (p *StaticProvider) SetSpot(symbol string, spot float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spots[symbol] = spot
}

var _ Provider = (*StaticProvider)(nil)
