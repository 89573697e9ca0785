package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"analytics-enginev1/internal/model"
)

// Fetch implements model.CandleSupplier: the latest lookbackBars candles,
// oldest first. Stored timestamps are unix seconds in UTC.
func (s *Store) Fetch(ctx context.Context, instrument string, tf model.Timeframe, lookbackBars int) (*model.Series, error) {
	if lookbackBars <= 0 {
		return nil, fmt.Errorf("%w: lookback bars %d", model.ErrInvalidParameter, lookbackBars)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, instrument, string(tf), lookbackBars)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query %s %s: %v", model.ErrUpstreamFetch, instrument, tf, err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c  model.Candle
			ts int64
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan %s %s: %v", model.ErrUpstreamFetch, instrument, tf, err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite rows %s %s: %v", model.ErrUpstreamFetch, instrument, tf, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no stored candles for %s %s", model.ErrUpstreamFetch, instrument, tf)
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return model.NewSeries(instrument, tf, candles)
}

// ListUniverse implements model.UniverseSupplier in insertion order.
func (s *Store) ListUniverse(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument FROM universes WHERE id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite universe %s: %v", model.ErrUpstreamFetch, id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("%w: sqlite universe %s: %v", model.ErrUpstreamFetch, id, err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite universe %s: %v", model.ErrUpstreamFetch, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: unknown universe %q", model.ErrInvalidParameter, id)
	}
	return out, nil
}

// LastTimestamp returns the newest stored bar time for a series, or the
// zero time when none is stored.
func (s *Store) LastTimestamp(ctx context.Context, instrument string, tf model.Timeframe) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE instrument = ? AND tf = ?`,
		instrument, string(tf),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Instruments lists the distinct instruments stored for tf.
func (s *Store) Instruments(ctx context.Context, tf model.Timeframe) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT instrument FROM candles WHERE tf = ? ORDER BY instrument`, string(tf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
