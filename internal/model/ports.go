package model

import "context"

// ── Supplier Port Interfaces ──
// The engine depends only on these. Implementations live under internal/store,
// internal/provider and internal/universe.

// CandleSupplier returns the most recent lookbackBars candles for an instrument
// and timeframe, oldest first.
type CandleSupplier interface {
	// Fetch returns a validated series. Supplier failures wrap ErrUpstreamFetch.
	Fetch(ctx context.Context, instrument string, tf Timeframe, lookbackBars int) (*Series, error)
}

// UniverseSupplier resolves a universe id to its instrument identifiers.
type UniverseSupplier interface {
	// ListUniverse returns instruments in a stable order.
	ListUniverse(ctx context.Context, id string) ([]string, error)
}

// UniverseSupplierFunc adapts a function to UniverseSupplier.
type UniverseSupplierFunc func(ctx context.Context, id string) ([]string, error)

func (f UniverseSupplierFunc) ListUniverse(ctx context.Context, id string) ([]string, error) {
	return f(ctx, id)
}
