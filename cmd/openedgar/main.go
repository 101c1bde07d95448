// openedgar - bulk SEC EDGAR 10-K section extraction by SIC code.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seenimoa/openedgar/api"
	"github.com/seenimoa/openedgar/internal/config"
	"github.com/seenimoa/openedgar/internal/edgar"
	"github.com/seenimoa/openedgar/internal/infra"
	"github.com/seenimoa/openedgar/internal/pipeline"
	"github.com/seenimoa/openedgar/internal/store"
	"github.com/seenimoa/openedgar/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	// Optional .env carrying the EDGAR identity variables.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "openedgar",
	Short: "openedgar - bulk SEC EDGAR 10-K section extraction by SIC code",
	Long: `openedgar resolves the registrants behind SIC industry codes, downloads
their 10-K filings from SEC EDGAR, extracts the Management's Discussion
and Analysis section, and writes one master table per SIC code.
Interrupted runs resume from the per-ticker status files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		slog.SetDefault(config.NewLogger(cfg.Logging))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(companiesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
}

// newEDGARClient builds the shared EDGAR client. Every command that
// talks to SEC goes through one of these, so the rate limiter inside
// is the only path upstream.
func newEDGARClient() *edgar.Client {
	return edgar.NewClient(edgar.Options{
		UserAgent:    cfg.EDGAR.UserAgent(),
		Cache:        infra.NewCache(cfg.EDGAR.CacheTTL),
		Limiter:      infra.NewWindowLimiter(cfg.EDGAR.RateRequests, cfg.EDGAR.RateWindow),
		MaxRetries:   cfg.EDGAR.MaxRetries,
		RetryBackoff: cfg.EDGAR.RetryBackoff,
		Logger:       slog.Default(),
	})
}

// sicArgs parses positional SIC code arguments; with none given it
// falls back to the configured run.sic_codes list.
func sicArgs(args []string) ([]int, error) {
	if len(args) == 0 {
		return cfg.Run.SICCodes, nil
	}
	codes := make([]int, 0, len(args))
	for _, a := range args {
		sic, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid SIC code %q", a)
		}
		codes = append(codes, sic)
	}
	return codes, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("openedgar %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run [sic...]",
	Short: "Download and extract 10-K filings for SIC codes",
	Long: `Run the full pipeline for each SIC code: resolve registrants, download
their 10-K filings in the configured date range, extract the MD&A
section, and append the results to the per-SIC master file.

SIC codes come from the arguments, or from run.sic_codes in the config
when none are given. A rerun skips tickers already marked completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sicCodes, err := sicArgs(args)
		if err != nil {
			return err
		}
		if len(sicCodes) == 0 {
			return fmt.Errorf("no SIC codes given (pass them as arguments or set run.sic_codes)")
		}
		cfg.Run.SICCodes = sicCodes

		if startFlag, _ := cmd.Flags().GetString("start"); startFlag != "" {
			cfg.Run.StartDate = startFlag
		}
		if endFlag, _ := cmd.Flags().GetString("end"); endFlag != "" {
			cfg.Run.EndDate = endFlag
		}
		if keepRaw, _ := cmd.Flags().GetBool("keep-raw"); keepRaw {
			cfg.Pipeline.KeepRaw = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		start, end, err := cfg.Run.DateRange()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		st, err := store.NewFileStore(cfg.Paths.OutputDir, cfg.Paths.CacheDir)
		if err != nil {
			return err
		}
		client := newEDGARClient()

		// The monitor server is created after the orchestrator it
		// observes; the progress hook reads srv through the closure.
		var srv *api.Server
		orch := pipeline.New(pipeline.Options{
			Source:         client,
			Store:          st,
			WorkDir:        cfg.Paths.WorkDir,
			Start:          start,
			End:            end,
			CompanyWorkers: cfg.Pipeline.CompanyWorkers,
			FilingWorkers:  cfg.Pipeline.FilingWorkers,
			Policy:         cfg.Pipeline.Policy(),
			KeepRaw:        cfg.Pipeline.KeepRaw,
			Logger:         slog.Default(),
			OnProgress: func(ev models.ProgressEvent) {
				if srv != nil {
					srv.BroadcastProgress(ev)
				}
			},
		})

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" && cfg.API.Enabled {
			listen = cfg.API.Addr()
		}
		if listen != "" {
			srv = api.NewServer(cfg, orch, st)
			go func() {
				slog.Info("monitor listening", "addr", listen)
				if err := srv.ListenAndServe(ctx, listen); err != nil {
					slog.Error("monitor server failed", "error", err)
				}
			}()
		}

		summaries := orch.Run(ctx, sicCodes)
		printRunReport(summaries)

		for _, sum := range summaries {
			if !sum.Clean() {
				os.Exit(1)
			}
		}
		if len(summaries) < len(sicCodes) {
			// Interrupted before every SIC was dispatched.
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("start", "", "earliest filing date (YYYY-MM-DD)")
	runCmd.Flags().String("end", "", "latest filing date (YYYY-MM-DD, default today)")
	runCmd.Flags().String("listen", "", "serve the run monitor on this address (e.g. 127.0.0.1:8080)")
	runCmd.Flags().Bool("keep-raw", false, "keep downloaded filings after extraction")
}

func printRunReport(summaries []models.RunSummary) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Println("  openedgar - Run Report")
	fmt.Println("═══════════════════════════════════════")
	for _, sum := range summaries {
		mark := "✓"
		if !sum.Clean() {
			mark = "✗"
		}
		fmt.Printf("  %s SIC %-5d %-12s\n", mark, sum.SICCode, sum.State)
		fmt.Printf("      companies: %d processed, %d failed, %d skipped of %d\n",
			sum.CompaniesProcessed, sum.CompaniesFailed, sum.CompaniesSkipped, sum.CompaniesTotal)
		fmt.Printf("      records:   %d written\n", sum.RecordsWritten)
		if len(sum.Failures) > 0 {
			cats := make([]string, 0, len(sum.Failures))
			for cat := range sum.Failures {
				cats = append(cats, cat)
			}
			sort.Strings(cats)
			for _, cat := range cats {
				fmt.Printf("      failures:  %s ×%d\n", cat, sum.Failures[cat])
			}
		}
		if sum.Error != "" {
			fmt.Printf("      error:     %s\n", sum.Error)
		}
	}
	fmt.Println("═══════════════════════════════════════")
}

// --- Companies Command ---

var companiesCmd = &cobra.Command{
	Use:   "companies <sic>",
	Short: "Resolve and print the registrants for a SIC code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sic, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid SIC code %q", args[0])
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		st, err := store.NewFileStore(cfg.Paths.OutputDir, cfg.Paths.CacheDir)
		if err != nil {
			return err
		}
		var cache edgar.CompanyCache = st
		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			cache = nil
		}

		companies, err := newEDGARClient().Resolve(ctx, sic, cache)
		if err != nil {
			return err
		}

		fmt.Printf("  %-10s %-12s %s\n", "TICKER", "CIK", "TITLE")
		for _, co := range companies {
			ticker := co.Ticker
			if ticker == "" {
				ticker = "-"
			}
			fmt.Printf("  %-10s %-12s %s\n", ticker, co.CIK, co.Title)
		}
		fmt.Printf("\n  %d registrants for SIC %d\n", len(companies), sic)
		return nil
	},
}

func init() {
	companiesCmd.Flags().Bool("refresh", false, "bypass the cached company list")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status [sic...]",
	Short: "Show per-ticker progress for SIC codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		sicCodes, err := sicArgs(args)
		if err != nil {
			return err
		}
		if len(sicCodes) == 0 {
			return fmt.Errorf("no SIC codes given (pass them as arguments or set run.sic_codes)")
		}

		st, err := store.NewFileStore(cfg.Paths.OutputDir, cfg.Paths.CacheDir)
		if err != nil {
			return err
		}

		for _, sic := range sicCodes {
			statuses, err := st.LoadStatus(sic)
			if err != nil {
				return err
			}
			records, err := st.RecordCount(sic)
			if err != nil {
				return err
			}

			counts := map[models.Status]int{}
			var failed []models.StatusEntry
			for _, entry := range statuses {
				counts[entry.Status]++
				if entry.Status == models.StatusFailed {
					failed = append(failed, entry)
				}
			}
			sort.Slice(failed, func(i, j int) bool { return failed[i].Ticker < failed[j].Ticker })

			fmt.Println("═══════════════════════════════════════")
			fmt.Printf("  SIC %d\n", sic)
			fmt.Println("═══════════════════════════════════════")
			fmt.Printf("  Tickers:    %d completed, %d failed, %d pending of %d\n",
				counts[models.StatusCompleted], counts[models.StatusFailed],
				counts[models.StatusPending], len(statuses))
			fmt.Printf("  Records:    %d in master file\n", records)
			for _, entry := range failed {
				fmt.Printf("    ✗ %-10s %s\n", entry.Ticker, entry.Err)
			}
		}
		return nil
	},
}

// --- Check Command ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the EDGAR endpoints the pipeline depends on",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("EDGAR connectivity check (as %s)\n", cfg.EDGAR.UserAgent())
		failed := false
		for _, result := range newEDGARClient().Check(ctx) {
			if result.OK() {
				fmt.Printf("  ✓ %-18s %s\n", result.Name, result.Detail)
			} else {
				fmt.Printf("  ✗ %-18s %v\n", result.Name, result.Err)
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return nil
	},
}
