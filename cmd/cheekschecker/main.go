package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/config"
	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/logging"
	"github.com/TobiSchelling/cheekschecker/internal/metrics"
	"github.com/TobiSchelling/cheekschecker/internal/notify"
	"github.com/TobiSchelling/cheekschecker/internal/pipeline"
	"github.com/TobiSchelling/cheekschecker/internal/scheduler"
	"github.com/TobiSchelling/cheekschecker/internal/server"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cheekschecker",
	Short:        "Watch the reservation calendar and notify Slack",
	Long:         "cheekschecker polls the reservation calendar, announces days that meet the attendance criteria, and posts masked weekly and monthly summaries.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logging.Setup(levelFor("info"), "text")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logging.Setup(levelFor(cfg.Logging.Level), cfg.Logging.Format)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		log.WithField("config", path).Debug("config loaded")
		return nil
	},
}

func levelFor(configured string) string {
	if verbose || os.Getenv("DEBUG_LOG") == "1" {
		return "debug"
	}
	return configured
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(importStateCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(daemonCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cheekschecker", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/cheekschecker/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the target URL and criteria, and export SLACK_WEBHOOK_URL.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		resolver, err := cfg.Resolver()
		if err != nil {
			return err
		}

		fmt.Printf("Business day: %s (%s)\n\n", businessday.Key(resolver.LogicalBusinessDay(time.Now())), cfg.Timezone)
		fmt.Println("Target:")
		fmt.Printf("  URL: %s\n", cfg.Target.URL)
		fmt.Printf("  Notify mode: %s\n", cfg.Notify.Mode)
		fmt.Printf("  Webhook: %s\n", webhookStatus())
		fmt.Println("\nState:")
		fmt.Printf("  Tracked days: %d\n", stats.StateDays)
		fmt.Printf("  Notified days: %d\n", stats.NotifiedDays)
		fmt.Println("\nHistory:")
		fmt.Printf("  Daily stats: %d", stats.DailyStats)
		if stats.FirstDay != "" {
			fmt.Printf(" (%s .. %s)", stats.FirstDay, stats.LastDay)
		}
		fmt.Println()
		fmt.Printf("  Masked days: %d\n", stats.MaskedDays)
		fmt.Printf("  Summaries: %d\n", stats.Summaries)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		if stats.LastRunAt != "" {
			fmt.Printf("  Last: %s (%s)\n", stats.LastRunAt, stats.LastRunStatus)
		}
		return nil
	},
}

func webhookStatus() string {
	if cfg.WebhookURL() == "" {
		return "not set (messages are logged only)"
	}
	return "set"
}

// --- watch command ---

var saveHTML string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Fetch the calendar once and send due notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
			res := p.Watch(ctx, pipeline.WatchOptions{SaveHTML: saveHTML})
			printSteps(res)
			return res.Err()
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&saveHTML, "save-html", "", "Write the fetched page to this file")
}

// --- summary command ---

var (
	summaryPeriod string
	summaryDays   int
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Compose, archive and send a masked summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
			period, err := resolvePeriod(p.LogicalToday(), summaryPeriod, summaryDays)
			if err != nil {
				return err
			}
			res := p.Summary(ctx, period)
			printSteps(res)
			return res.Err()
		})
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryPeriod, "period", "weekly", "Summary period: weekly or monthly")
	summaryCmd.Flags().IntVar(&summaryDays, "days", 0, "Summarize the last N days instead of a calendar period")
}

// resolvePeriod picks the period to summarize: an explicit day count wins
// over the named period.
func resolvePeriod(today time.Time, name string, days int) (summary.Period, error) {
	if days > 0 {
		return summary.LastNDays(today, days), nil
	}
	switch name {
	case "weekly":
		return summary.WeeklyPeriod(today), nil
	case "monthly":
		return summary.MonthlyPeriod(today), nil
	}
	return summary.Period{}, fmt.Errorf("unknown period %q (want weekly or monthly)", name)
}

// --- history command ---

var (
	historyFrom string
	historyTo   string
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print masked daily history",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.GetMaskedHistory(historyFrom, historyTo)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if records == nil {
				return enc.Encode([]any{})
			}
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Println("No history recorded yet. Run: cheekschecker watch")
			return nil
		}
		fmt.Printf("%-10s  %-6s %-6s %-6s %-6s\n", "day", "単女", "女", "全", "比率")
		for _, r := range records {
			fmt.Printf("%-10s  %-6s %-6s %-6s %-6s\n", r.BusinessDay, r.Single, r.Female, r.Total, r.Ratio)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "First day (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "Last day (YYYY-MM-DD)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
}

// --- import-state command ---

var importStateCmd = &cobra.Command{
	Use:   "import-state [file]",
	Short: "Import a legacy state.json into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		resolver, err := cfg.Resolver()
		if err != nil {
			return err
		}
		reference := resolver.LogicalBusinessDay(time.Now())

		res, err := db.ImportLegacyState(cmd.Context(), f, cfg.Target.URL, reference)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d day(s) relative to %s\n", len(res.Imported), businessday.Key(reference))
		for _, key := range res.Dropped {
			fmt.Printf("  dropped: %s\n", key)
		}
		return nil
	},
}

// --- ping command ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send a test message to the Slack webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.WebhookURL() == "" {
			return fmt.Errorf("%s is not set", cfg.Notify.WebhookEnv)
		}
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
			if err := p.Ping(ctx); err != nil {
				return err
			}
			fmt.Println("Webhook OK")
			return nil
		})
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- daemon command ---

var (
	daemonServe  bool
	daemonRunNow bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run watch and summaries on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := newPipeline(db)
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		sched, err := scheduler.New(loc, cfg.JobTimeout(), scheduler.PipelineJobs(p, cfg))
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		if daemonRunNow {
			if err := sched.RunNow("watch"); err != nil {
				log.WithError(err).Warn("initial watch failed")
			}
		}
		sched.Start()
		defer sched.Stop()

		if daemonServe {
			return server.Serve(ctx, db, cfg.Server.Port)
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonServe, "serve", false, "Also run the web server")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", false, "Run a watch immediately on start")
}

// --- helpers ---

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}

func newPipeline(db *database.DB) (*pipeline.Pipeline, error) {
	metrics.Register()
	notifier := notify.New(cfg.WebhookURL(), cfg.Notify.MessagesPerSecond)
	return pipeline.New(cfg, db, notifier)
}

// withPipeline opens the database and runs fn with a pipeline bounded by the
// job timeout and interrupted by SIGINT/SIGTERM.
func withPipeline(fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := newPipeline(db)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout())
	defer cancel()
	return fn(ctx, p)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printSteps(res *pipeline.Result) {
	fmt.Printf("Run %s (%s)\n", res.RunID, res.Kind)
	for i, step := range res.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(res.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	fmt.Printf("\nStatus: %s\n", res.Status)
}
