package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stocktest/internal/app"
	"stocktest/internal/domain"
)

var (
	btStrategy  string
	btPeriod    string
	btCost      float64
	btFrequency string
	btCapital   float64
	btBenchmark string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run the configured strategy over every period",
	Long:  "Pre-fetch every needed ticker, then backtest each combination of the chosen strategy for every configured period and write reports.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStrategy(cmd, btStrategy)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare [ticker...]",
	Short: "Backtest each ticker on its own over every period",
	Long:  "For every period, pre-fetch all tickers and run one backtest per ticker at weight 1.0. Exits 1 if any combination failed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			cfg.Tickers = args
		}
		return runStrategy(cmd, "per-ticker")
	},
}

func init() {
	for _, c := range []*cobra.Command{backtestCmd, compareCmd} {
		c.Flags().StringVar(&btPeriod, "period", "", "only run the named period")
		c.Flags().Float64Var(&btCost, "cost", -1, "transaction cost in percent of traded value (0.1 = 0.1%)")
		c.Flags().StringVar(&btFrequency, "frequency", "", "rebalance frequency: daily, weekly or monthly")
		c.Flags().Float64Var(&btCapital, "capital", 0, "initial capital in dollars")
		c.Flags().StringVar(&btBenchmark, "benchmark", "", "benchmark ticker")
	}
	backtestCmd.Flags().StringVar(&btStrategy, "strategy", "", "allocation scheme: per-ticker, equal-weight or custom (default from config)")
	rootCmd.AddCommand(backtestCmd, compareCmd)
}

// applyFlags folds command-line overrides into the loaded config.
func applyFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("cost") {
		cfg.Backtest.TransactionCostPct = btCost / 100
	}
	if btFrequency != "" {
		cfg.Backtest.RebalanceFrequency = btFrequency
	}
	if btCapital > 0 {
		cfg.Backtest.InitialCapital = btCapital
	}
	if btBenchmark != "" {
		cfg.Backtest.Benchmark = btBenchmark
	}
}

func runStrategy(cmd *cobra.Command, name string) error {
	applyFlags(cmd)
	if name == "" {
		name = cfg.Backtest.Strategy
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	periods, err := cfg.TimePeriods()
	if err != nil {
		return err
	}
	if btPeriod != "" {
		periods = filterPeriods(periods, btPeriod)
		if len(periods) == 0 {
			return fmt.Errorf("no period named %q", btPeriod)
		}
	}

	reports, err := a.RunPeriods(cmd.Context(), name, periods, cfg.Tickers, cfg.Backtest.Weights, a.BaseConfig())
	failed := 0
	for _, pr := range reports {
		failed += printPeriod(pr)
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d combination(s) failed\n", failed)
		return errFailures
	}
	return nil
}

func filterPeriods(periods []domain.Period, name string) []domain.Period {
	for _, p := range periods {
		if p.Name == name {
			return []domain.Period{p}
		}
	}
	return nil
}

// printPeriod prints one period's results, best first, and returns the
// number of failed combinations.
func printPeriod(pr app.PeriodReport) int {
	run := pr.Run
	fmt.Printf("\n== %s (%s .. %s) strategy=%s\n", run.Period.Name, run.Period.Start, run.Period.End, run.Strategy)

	entries := pr.Entries
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Metrics.TotalReturn > entries[j].Metrics.TotalReturn
	})

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFINAL\tRETURN\tCAGR\tSHARPE\tMAX DD\tTRADES")
	for _, e := range entries {
		m := e.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%.2f%%\t%.2f\t%.2f%%\t%d\n",
			e.Name, e.Result.Final.Value, m.TotalReturn*100, m.CAGR*100, m.Sharpe, m.MaxDrawdown*100, len(e.Result.Trades))
	}
	tw.Flush()

	failed := run.Failed()
	for _, k := range failed {
		fmt.Printf("FAILED %s: %v\n", k, run.Results[k].Err)
	}
	if pr.ReportDir != "" {
		fmt.Printf("report: %s\n", pr.ReportDir)
	}
	if pr.ReportErr != nil {
		fmt.Printf("report errors: %v\n", pr.ReportErr)
	}
	return len(failed)
}
