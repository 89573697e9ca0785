package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"analytics-enginev1/internal/model"
	redisstore "analytics-enginev1/internal/store/redis"
	sqlitestore "analytics-enginev1/internal/store/sqlite"
)

func newIngestCmd() *cobra.Command {
	var (
		file       string
		instrument string
		tf         string
		universeID string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load CSV candles into the SQLite store",
		Long: `Load candles from CSV. The header names the columns: a time column
(time, date, datetime or timestamp), open, high, low, close, an optional
volume and an optional symbol/instrument column. Without an instrument
column every row belongs to --instrument.

Times may be unix seconds, RFC3339, "2006-01-02 15:04:05" or "2006-01-02" (UTC).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeframe, err := model.ParseTimeframe(tf)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := sqlitestore.Open(cfg.SQLite.Path, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			n, seen, err := ingestCSV(cmd.Context(), store, in, instrument, timeframe)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d %s candles for %d instruments\n", n, timeframe, len(seen))
			if cfg.Redis.Addr != "" {
				rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer rdb.Close()
				cache := redisstore.NewCandleCache(rdb, store, cfg.Redis.CacheTTL, cfg.Redis.CacheNamespace)
				if err := invalidateCached(cmd.Context(), cache, seen, timeframe); err != nil {
					// Stale entries still expire after the cache TTL.
					cliLogger(cmd.ErrOrStderr()).Warn("cache invalidation failed", "error", err)
				}
			}
			if universeID != "" {
				if err := store.SetUniverse(cmd.Context(), universeID, seen); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "universe %s: %s\n", universeID, strings.Join(seen, ","))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "-", "CSV file, - for stdin")
	f.StringVar(&instrument, "instrument", "", "instrument for files without a symbol column")
	f.StringVar(&tf, "tf", "1d", "timeframe of the candles")
	f.StringVar(&universeID, "universe", "", "also store the ingested instruments as this universe")
	return cmd
}

// ingestCSV streams rows from r into store and returns the row count and the
// instruments seen, in first-seen order.
func ingestCSV(ctx context.Context, store *sqlitestore.Store, r io.Reader, instrument string, tf model.Timeframe) (int, []string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan sqlitestore.Row, 256)
	readErr := make(chan error, 1)
	var seen []string
	go func() {
		defer close(rows)
		var err error
		seen, err = readCSV(ctx, r, instrument, tf, rows)
		readErr <- err
	}()

	n, err := store.Ingest(ctx, rows)
	cancel()
	rerr := <-readErr
	if rerr != nil && !errors.Is(rerr, context.Canceled) {
		return n, nil, rerr
	}
	if err != nil {
		return n, nil, err
	}
	return n, seen, nil
}

// invalidateCached drops cached candles for every ingested instrument.
func invalidateCached(ctx context.Context, cache *redisstore.CandleCache, instruments []string, tf model.Timeframe) error {
	for _, inst := range instruments {
		if err := cache.Invalidate(ctx, inst, tf); err != nil {
			return fmt.Errorf("invalidate %s %s: %w", inst, tf, err)
		}
	}
	return nil
}

type csvLayout struct {
	time, open, high, low, close, volume, symbol int
}

func layoutOf(header []string) (csvLayout, error) {
	l := csvLayout{-1, -1, -1, -1, -1, -1, -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "time", "date", "datetime", "timestamp":
			l.time = i
		case "open":
			l.open = i
		case "high":
			l.high = i
		case "low":
			l.low = i
		case "close":
			l.close = i
		case "volume":
			l.volume = i
		case "symbol", "instrument", "ticker":
			l.symbol = i
		}
	}
	if l.time < 0 || l.open < 0 || l.high < 0 || l.low < 0 || l.close < 0 {
		return l, fmt.Errorf("%w: csv header needs time, open, high, low and close columns, got %v", model.ErrInvalidParameter, header)
	}
	return l, nil
}

// readCSV parses r and sends one Row per record.
func readCSV(ctx context.Context, r io.Reader, instrument string, tf model.Timeframe, out chan<- sqlitestore.Row) ([]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	layout, err := layoutOf(header)
	if err != nil {
		return nil, err
	}
	if layout.symbol < 0 && strings.TrimSpace(instrument) == "" {
		return nil, fmt.Errorf("%w: csv has no symbol column and --instrument is empty", model.ErrInvalidParameter)
	}

	var order []string
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return order, nil
		}
		if err != nil {
			return order, fmt.Errorf("csv line %d: %w", line, err)
		}
		row, err := parseRecord(rec, layout, instrument, tf)
		if err != nil {
			return order, fmt.Errorf("csv line %d: %w", line, err)
		}
		if !seen[row.Instrument] {
			seen[row.Instrument] = true
			order = append(order, row.Instrument)
		}
		select {
		case out <- row:
		case <-ctx.Done():
			return order, ctx.Err()
		}
	}
}

func parseRecord(rec []string, l csvLayout, instrument string, tf model.Timeframe) (sqlitestore.Row, error) {
	row := sqlitestore.Row{Instrument: strings.TrimSpace(instrument), Timeframe: tf}
	if l.symbol >= 0 {
		row.Instrument = strings.TrimSpace(rec[l.symbol])
	}
	t, err := parseCSVTime(rec[l.time])
	if err != nil {
		return row, err
	}
	row.Candle.Time = t

	fields := []struct {
		idx int
		dst *float64
	}{
		{l.open, &row.Candle.Open},
		{l.high, &row.Candle.High},
		{l.low, &row.Candle.Low},
		{l.close, &row.Candle.Close},
		{l.volume, &row.Candle.Volume},
	}
	for _, f := range fields {
		if f.idx < 0 {
			continue
		}
		v := strings.TrimSpace(rec[f.idx])
		if v == "" && f.idx == l.volume {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return row, fmt.Errorf("%w: %q is not a number", model.ErrMalformedCandle, rec[f.idx])
		}
		*f.dst = d.InexactFloat64()
	}
	return row, nil
}

var csvTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", model.ErrMalformedCandle, s)
}

func newUniverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Manage stored universes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set ID SYMBOL...",
		Short: "Replace a universe in SQLite and, when configured, add it to Redis",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id, members := args[0], args[1:]

			store, err := sqlitestore.Open(cfg.SQLite.Path, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.SetUniverse(cmd.Context(), id, members); err != nil {
				return err
			}

			if cfg.Redis.Addr != "" {
				rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer rdb.Close()
				if err := redisstore.NewUniverseSets(rdb, cfg.Redis.UniverseNamespace, nil).Add(cmd.Context(), id, members...); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "universe %s: %d instruments\n", id, len(members))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list ID",
		Short: "Show the members of a universe stored in SQLite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := sqlitestore.Open(cfg.SQLite.Path, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()
			members, err := store.ListUniverse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(members, "\n"))
			return nil
		},
	})
	return cmd
}
