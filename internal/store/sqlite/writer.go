package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"analytics-enginev1/internal/model"
)

// Row is one candle addressed by instrument and timeframe, as produced by ingest.
type Row struct {
	Instrument string
	Timeframe  model.Timeframe
	Candle     model.Candle
}

// UpsertCandles validates and stores candles for one series in a single
// transaction. Existing bars with the same timestamp are replaced.
func (s *Store) UpsertCandles(ctx context.Context, instrument string, tf model.Timeframe, candles []model.Candle) error {
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{Instrument: instrument, Timeframe: tf, Candle: c}
	}
	return s.insertBatch(ctx, rows)
}

// Ingest drains rowCh into the database in batched transactions and returns
// the number of rows written. It stops at the first failing batch, when
// rowCh is closed, or when ctx is cancelled.
func (s *Store) Ingest(ctx context.Context, rowCh <-chan Row) (int, error) {
	batch := make([]Row, 0, defaultBatchSize)
	written := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		if err := s.insertBatch(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		s.log.Debug("sqlite batch committed", "rows", len(batch), "duration", time.Since(start).String())
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(); err != nil {
				return written, err
			}
			return written, ctx.Err()
		case r, ok := <-rowCh:
			if !ok {
				return written, flush()
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				if err := flush(); err != nil {
					return written, err
				}
			}
		}
	}
}

func (s *Store) insertBatch(ctx context.Context, rows []Row) error {
	for i, r := range rows {
		if !r.Timeframe.Valid() {
			return fmt.Errorf("%w: row %d: unknown timeframe %q", model.ErrInvalidParameter, i, r.Timeframe)
		}
		if r.Instrument == "" {
			return fmt.Errorf("%w: row %d: empty instrument", model.ErrInvalidParameter, i)
		}
		if err := r.Candle.Validate(); err != nil {
			return fmt.Errorf("%s %s at %s: %w", r.Instrument, r.Timeframe, r.Candle.Time.Format(time.RFC3339), err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		c := r.Candle
		if _, err := stmt.ExecContext(ctx, r.Instrument, string(r.Timeframe), c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SetUniverse replaces the members of universe id, keeping the given order.
func (s *Store) SetUniverse(ctx context.Context, id string, instruments []string) error {
	if id == "" {
		return fmt.Errorf("%w: empty universe id", model.ErrInvalidParameter)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := replaceUniverse(ctx, tx, id, instruments); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func replaceUniverse(ctx context.Context, tx *sql.Tx, id string, instruments []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM universes WHERE id = ?`, id); err != nil {
		return err
	}
	for i, inst := range instruments {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO universes (id, instrument, position) VALUES (?, ?, ?)`,
			id, inst, i); err != nil {
			return err
		}
	}
	return nil
}
