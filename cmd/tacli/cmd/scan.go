package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/scanner"
	redisstore "analytics-enginev1/internal/store/redis"
)

func newScanCmd() *cobra.Command {
	var (
		req         engine.ScanRequest
		instruments string
		filter      string
		tf          string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a universe with a preset, an expression or a JSON filter",
		Example: `  tacli scan --universe tech --preset oversold
  tacli scan --instruments AAPL,MSFT --expr "close > sma_50 and rsi > 50" --tf 1h
  tacli scan --universe tech --filter '["lt","rsi",30]' --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instruments != "" {
				req.Instruments = strings.Split(instruments, ",")
			}
			if filter != "" {
				req.Filter = json.RawMessage(filter)
			}
			if tf != "" {
				t, err := model.ParseTimeframe(tf)
				if err != nil {
					return err
				}
				req.Timeframe = t
			}
			if _, err := req.Compile(); err != nil {
				return err
			}

			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.Engine().Scan(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printScan(cmd.OutOrStdout(), resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Universe, "universe", "", "universe id")
	f.StringVar(&instruments, "instruments", "", "comma-separated instruments (overrides --universe)")
	f.StringVar(&req.Preset, "preset", "", "preset name (see tacli presets)")
	f.StringVar(&req.Expression, "expr", "", `condition, e.g. "rsi < 30 and volume > 1000000"`)
	f.StringVar(&filter, "filter", "", "JSON token filter")
	f.StringVar(&tf, "tf", "", "timeframe (default 1d)")
	f.IntVar(&req.Limit, "limit", 0, "maximum results")
	f.BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func printScan(w io.Writer, resp *engine.ScanResponse) error {
	fmt.Fprintf(w, "%s on %s (%s): %d of %d matched\n\n", resp.Filter, resp.Universe, resp.Timeframe, resp.Matched, resp.Scanned)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tINSTRUMENT\tCLOSE\tRANK BY\tKEY")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.4f\n", r.Rank, r.Instrument, r.LastClose, r.RankField, r.RankKey)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(resp.Excluded) > 0 {
		fmt.Fprintln(w, "\nexcluded:")
		for _, e := range resp.Excluded {
			fmt.Fprintf(w, "  %s: %s (%s)\n", e.Instrument, e.Kind, e.Message)
		}
	}
	return nil
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List scan presets and scannable fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPresets(cmd.OutOrStdout())
		},
	}
}

func printPresets(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESET\tCATEGORY\tCONDITION\tDESCRIPTION")
	for _, p := range scanner.Presets() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Category, p.Condition, p.Description)
	}
	fmt.Fprintln(tw, "\t\t\t")
	fmt.Fprintln(tw, "FIELD\tCATEGORY\t\tDESCRIPTION")
	for _, f := range scanner.Catalogue() {
		fmt.Fprintf(tw, "%s\t%s\t\t%s\n", f.Name, f.Category, f.Description)
	}
	return tw.Flush()
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest JOB",
		Short: "Show the last published result of a scheduled scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("latest needs redis (set REDIS_ADDR)")
			}
			rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()

			msg, err := redisstore.NewScanPublisher(rdb, cfg.Redis.Channel, cfg.Redis.LatestTTL, nil).Latest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if msg == nil {
				return fmt.Errorf("no stored result for job %s", args[0])
			}
			return printScan(cmd.OutOrStdout(), msg.Result)
		},
	}
}
