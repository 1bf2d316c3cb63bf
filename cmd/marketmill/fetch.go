package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avelline/marketmill/internal/fetch"
)

const (
	fmpTokenKey = "FMP_API_TOKEN"
	secTokenKey = "SEC_API_TOKEN"

	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

func newFetchCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download raw data from upstream providers",
	}

	cmd.AddCommand(newFetchMarketCapCmd(root))
	cmd.AddCommand(newFetchInsiderTradesCmd(root))

	return cmd
}

type marketCapFetchOptions struct {
	From        string
	To          string
	TickersFile string
	Force       bool
	RetryFailed bool
}

func newFetchMarketCapCmd(root *rootFlags) *cobra.Command {
	opts := marketCapFetchOptions{}

	cmd := &cobra.Command{
		Use:   "market-cap",
		Short: "Download daily market capitalization per symbol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetchMarketCap(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "Start date (YYYY-MM-DD), defaults to the configured start")
	cmd.Flags().StringVar(&opts.To, "to", "", "End date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&opts.TickersFile, "tickers", "", "File with one symbol per line, overrides discovery")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Redownload symbols that already have a file")
	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "Retry only the symbols recorded as failed")

	return cmd
}

func runFetchMarketCap(cmd *cobra.Command, root *rootFlags, opts marketCapFetchOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	log, err := root.newLogger()
	if err != nil {
		return err
	}

	token, err := fetch.LoadToken(cfg.MarketCapEnvPath(), fmpTokenKey)
	if err != nil {
		return err
	}

	fromText := cfg.Fetch.MarketCap.FromDate
	if opts.From != "" {
		fromText = opts.From
	}
	from, err := time.Parse(dateLayout, fromText)
	if err != nil {
		return fmt.Errorf("invalid start date %q, want YYYY-MM-DD", fromText)
	}

	to := time.Now()
	if opts.To != "" {
		to, err = time.Parse(dateLayout, opts.To)
		if err != nil {
			return fmt.Errorf("invalid end date %q, want YYYY-MM-DD", opts.To)
		}
	}

	dl := &fetch.MarketCap{
		Client:       &fetch.Client{Log: log},
		Endpoint:     cfg.Fetch.MarketCap.Endpoint,
		Token:        token,
		DataDir:      cfg.MarketCapDir(),
		TempDir:      cfg.MarketCapTempDir(),
		StocksZipDir: cfg.StocksZipDir(),
		WindowDays:   cfg.Fetch.MarketCap.WindowDays,
		Workers:      cfg.Fetch.MarketCap.Workers,
		Log:          log,
	}

	stats, err := dl.Run(cmd.Context(), fetch.MarketCapRequest{
		TickersFile: opts.TickersFile,
		From:        from,
		To:          to,
		Force:       opts.Force,
		RetryFailed: opts.RetryFailed,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d, skipped %d, failed %d\n",
		stats.Downloaded, stats.Skipped, stats.Failed)
	return err
}

type insiderFetchOptions struct {
	From  string
	To    string
	Force bool
}

func newFetchInsiderTradesCmd(root *rootFlags) *cobra.Command {
	opts := insiderFetchOptions{}

	cmd := &cobra.Command{
		Use:   "insider-trades",
		Short: "Download monthly SEC Form 4 bulk archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetchInsiderTrades(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "First month to download (YYYY-MM)")
	cmd.Flags().StringVar(&opts.To, "to", "", "Last month to download (YYYY-MM)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Redownload months that already have a file")

	return cmd
}

func runFetchInsiderTrades(cmd *cobra.Command, root *rootFlags, opts insiderFetchOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	log, err := root.newLogger()
	if err != nil {
		return err
	}

	token, err := fetch.LoadToken(cfg.InsiderTradesEnvPath(), secTokenKey)
	if err != nil {
		return err
	}

	for _, month := range []string{opts.From, opts.To} {
		if month == "" {
			continue
		}
		if _, err := time.Parse(monthLayout, month); err != nil {
			return fmt.Errorf("invalid month %q, want YYYY-MM", month)
		}
	}

	dl := &fetch.InsiderTrades{
		Client:   &fetch.Client{Token: token, Log: log},
		IndexURL: cfg.Fetch.InsiderTrades.IndexURL,
		BaseURL:  cfg.Fetch.InsiderTrades.BaseURL,
		DataDir:  cfg.InsiderTradesDir(),
		TempDir:  cfg.InsiderTradesTempDir(),
		Log:      log,
	}

	stats, err := dl.Run(cmd.Context(), fetch.InsiderRequest{
		FromMonth: opts.From,
		ToMonth:   opts.To,
		Force:     opts.Force,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d, skipped %d, failed %d\n",
		stats.Downloaded, stats.Skipped, stats.Failed)
	return err
}
