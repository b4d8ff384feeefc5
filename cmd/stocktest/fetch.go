package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/gather"
)

var (
	fetchStart string
	fetchEnd   string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [ticker...]",
	Short: "Fill the cache for tickers",
	Long:  "Fetch missing daily bars for the given tickers (default: configured tickers) over the union of the configured periods, or --start/--end.",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "start date YYYY-MM-DD (default: earliest period start)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "end date YYYY-MM-DD (default: latest period end)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Tickers = args
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	window, err := fetchWindow()
	if err != nil {
		return err
	}

	results, err := a.Fetcher.FetchAll(cmd.Context(), cfg.Tickers, window)
	printFetchResults(results)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.OK() && r.Result.Outcome != cache.OutcomeNoData && r.Result.Outcome != cache.OutcomePending {
			return errFailures
		}
	}
	return nil
}

func fetchWindow() (domain.DateRange, error) {
	w, err := cfg.Window()
	if err != nil && (fetchStart == "" || fetchEnd == "") {
		return w, err
	}
	if fetchStart != "" {
		if w.Start, err = domain.ParseDay(fetchStart); err != nil {
			return w, fmt.Errorf("--start: %w", err)
		}
	}
	if fetchEnd != "" {
		if w.End, err = domain.ParseDay(fetchEnd); err != nil {
			return w, fmt.Errorf("--end: %w", err)
		}
	}
	return domain.NewDateRange(w.Start, w.End)
}

func printFetchResults(results map[string]gather.ItemResult) {
	tickers := make([]string, 0, len(results))
	for t := range results {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tOUTCOME\tBARS\tINSERTED\tCALLS\tERROR")
	for _, t := range tickers {
		r := results[t]
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			t, r.Result.Outcome, len(r.Result.Bars), r.Result.Inserted, r.Result.ProviderCalls, errText)
	}
	tw.Flush()
}
