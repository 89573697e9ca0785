package cmd

import (
	"github.com/spf13/cobra"

	"analytics-enginev1/internal/model"
)

func newAnalyzeCmd() *cobra.Command {
	var tf string
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Indicators, levels and signals for one instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeframe, err := model.ParseTimeframe(tf)
			if err != nil {
				return err
			}
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			r, err := svc.Engine().Analyze(cmd.Context(), args[0], timeframe)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&tf, "tf", "1d", "timeframe (1m, 5m, 15m, 30m, 1h, 4h, 1d, 1w, 1M)")
	return cmd
}

func newMTFCmd() *cobra.Command {
	var tfs string
	cmd := &cobra.Command{
		Use:   "mtf SYMBOL",
		Short: "Analyze one instrument on several timeframes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := model.ParseTimeframes(tfs)
			if err != nil {
				return err
			}
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			r, err := svc.Engine().AnalyzeMultiTimeframe(cmd.Context(), args[0], list)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&tfs, "tfs", "1h,4h,1d", "comma-separated timeframes")
	return cmd
}
