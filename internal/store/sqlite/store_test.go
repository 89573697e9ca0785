package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-enginev1/internal/model"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "candles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func daily(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 50 + float64(i)
		out[i] = model.Candle{Time: t0.AddDate(0, 0, i), Open: p, High: p + 2, Low: p - 1, Close: p + 1, Volume: float64(100 * (i + 1))}
	}
	return out
}

func TestStore_FetchLatestBarsOldestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertCandles(ctx, "AAPL", model.TF1d, daily(10)))

	series, err := s.Fetch(ctx, "AAPL", model.TF1d, 4)
	require.NoError(t, err)
	require.Equal(t, 4, series.Len())
	assert.Equal(t, "AAPL", series.Instrument)
	assert.True(t, series.Candles[0].Time.Equal(t0.AddDate(0, 0, 6)))
	assert.True(t, series.Candles[3].Time.Equal(t0.AddDate(0, 0, 9)))
	assert.Equal(t, 60.0, series.Candles[3].Close)
	assert.Equal(t, 1000.0, series.Candles[3].Volume)

	all, err := s.Fetch(ctx, "AAPL", model.TF1d, 500)
	require.NoError(t, err)
	assert.Equal(t, 10, all.Len())
}

func TestStore_UpsertReplacesSameTimestamp(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	bars := daily(3)
	require.NoError(t, s.UpsertCandles(ctx, "AAPL", model.TF1d, bars))

	bars[2].Close = bars[2].High
	require.NoError(t, s.UpsertCandles(ctx, "AAPL", model.TF1d, bars[2:]))

	series, err := s.Fetch(ctx, "AAPL", model.TF1d, 10)
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())
	assert.Equal(t, bars[2].High, series.Candles[2].Close)
}

func TestStore_RejectsMalformedCandles(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	bars := daily(3)
	bars[1].Low = bars[1].High + 1

	err := s.UpsertCandles(ctx, "AAPL", model.TF1d, bars)
	assert.ErrorIs(t, err, model.ErrMalformedCandle)

	_, err = s.Fetch(ctx, "AAPL", model.TF1d, 10)
	assert.ErrorIs(t, err, model.ErrUpstreamFetch, "nothing from a rejected batch may be stored")

	err = s.UpsertCandles(ctx, "AAPL", model.Timeframe("2d"), daily(1))
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestStore_FetchErrors(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Fetch(ctx, "NOPE", model.TF1d, 10)
	assert.ErrorIs(t, err, model.ErrUpstreamFetch)

	_, err = s.Fetch(ctx, "AAPL", model.TF1d, 0)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestStore_SeriesAreKeyedByTimeframe(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertCandles(ctx, "AAPL", model.TF1d, daily(5)))
	require.NoError(t, s.UpsertCandles(ctx, "AAPL", model.TF1w, daily(2)))

	d, err := s.Fetch(ctx, "AAPL", model.TF1d, 100)
	require.NoError(t, err)
	w, err := s.Fetch(ctx, "AAPL", model.TF1w, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, 2, w.Len())

	last, err := s.LastTimestamp(ctx, "AAPL", model.TF1d)
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.AddDate(0, 0, 4)))

	none, err := s.LastTimestamp(ctx, "MSFT", model.TF1d)
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	insts, err := s.Instruments(ctx, model.TF1w)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, insts)
}

func TestStore_Ingest(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	ch := make(chan Row)
	go func() {
		defer close(ch)
		for _, inst := range []string{"AAPL", "MSFT"} {
			for _, c := range daily(defaultBatchSize) {
				ch <- Row{Instrument: inst, Timeframe: model.TF1d, Candle: c}
			}
		}
		ch <- Row{Instrument: "NVDA", Timeframe: model.TF1h, Candle: daily(1)[0]}
	}()

	n, err := s.Ingest(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 2*defaultBatchSize+1, n)

	series, err := s.Fetch(ctx, "MSFT", model.TF1d, 1000)
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, series.Len())

	series, err = s.Fetch(ctx, "NVDA", model.TF1h, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())
}

func TestStore_IngestStopsAtBadBatch(t *testing.T) {
	s := openTemp(t)
	ch := make(chan Row, 2)
	bad := daily(1)[0]
	bad.Volume = -1
	ch <- Row{Instrument: "AAPL", Timeframe: model.TF1d, Candle: bad}
	close(ch)

	n, err := s.Ingest(context.Background(), ch)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, model.ErrMalformedCandle)
}

func TestStore_Universe(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SetUniverse(ctx, "demo", []string{"MSFT", "AAPL", "MSFT", "NVDA"}))
	got, err := s.ListUniverse(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL", "NVDA"}, got)

	require.NoError(t, s.SetUniverse(ctx, "demo", []string{"TSLA"}))
	got, err = s.ListUniverse(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA"}, got)

	_, err = s.ListUniverse(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrInvalidParameter)

	assert.ErrorIs(t, s.SetUniverse(ctx, "", nil), model.ErrInvalidParameter)
}
