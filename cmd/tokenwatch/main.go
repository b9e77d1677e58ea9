// Package main is the entry point for tokenwatch. It wires configuration,
// storage, the monitor, the ops server and the optional watch view.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/config"
	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/metrics"
	"github.com/j-veylop/tokenwatch/internal/opsserver"
	"github.com/j-veylop/tokenwatch/internal/services"
	"github.com/j-veylop/tokenwatch/internal/ui/tabs/alerts"
	"github.com/j-veylop/tokenwatch/internal/ui/tabs/dashboard"
	"github.com/j-veylop/tokenwatch/internal/usage"
	"github.com/j-veylop/tokenwatch/internal/version"
)

type flags struct {
	version    bool
	envFile    string
	thresholds string
	noTUI      bool
	once       bool
	cleanup    bool
}

func main() {
	var f flags
	fs := pflag.NewFlagSet("tokenwatch", pflag.ContinueOnError)
	fs.BoolVarP(&f.version, "version", "v", false, "show version information")
	fs.StringVarP(&f.envFile, "config", "c", "", "load environment from this .env file first")
	fs.StringVar(&f.thresholds, "thresholds", "", "YAML file overriding alert thresholds")
	fs.BoolVar(&f.noTUI, "no-tui", false, "run headless without the watch view")
	fs.BoolVar(&f.once, "once", false, "collect one sample, predict and exit")
	fs.BoolVar(&f.cleanup, "cleanup", false, "delete samples past retention and exit")
	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if f.version {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", f.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if f.thresholds != "" {
		if err := cfg.LoadThresholds(f.thresholds); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid thresholds: %w", err)
		}
	}

	interactive := !f.noTUI && !f.once && !f.cleanup
	logFile := cfg.LogFile
	if interactive && logFile == "" {
		// The watch view owns the terminal.
		logFile = filepath.Join(filepath.Dir(cfg.Backend.FallbackPath), "tokenwatch.log")
	}
	logCloser := logger.Setup(cfg.LogLevel, logFile)
	defer func() { _ = logCloser.Close() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := db.NewAdapter(db.StrategyFromConfig(cfg.Backend))
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Error closing storage", "error", err)
		}
	}()
	logger.Info("Storage ready", "backend", store.Kind())

	source, closer, err := buildSource(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	mon := services.NewMonitor(cfg, store, source)

	switch {
	case f.cleanup:
		n, err := mon.Cleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %s samples older than %d days\n", humanize.Comma(n), cfg.RetentionDays)
		return nil
	case f.once:
		return runOnce(ctx, mon)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })

	if cfg.MetricsAddr != "" {
		srv := opsserver.New(cfg.MetricsAddr, store)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if interactive {
		g.Go(func() error {
			defer cancel()
			return runTUI(gctx, cfg, mon)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildSource selects the usage source. An endpoint wins over a file.
func buildSource(cfg *config.Config) (usage.Source, io.Closer, error) {
	paths := usage.DefaultPaths()
	paths.Tokens = cfg.UsageTokensPath
	paths.Requests = cfg.UsageRequestsPath

	var (
		src    usage.Source
		closer io.Closer = nopCloser{}
	)
	switch {
	case cfg.UsageSourceURL != "":
		var opts []usage.HTTPOption
		if token := os.Getenv("USAGE_SOURCE_TOKEN"); token != "" {
			opts = append(opts, usage.WithHeader("Authorization", "Bearer "+token))
		}
		src = usage.NewHTTPSource(cfg.UsageSourceURL, paths, opts...)
	case cfg.UsageSourceFile != "":
		var opts []usage.FileOption
		if cfg.UsageSourceCumulative {
			opts = append(opts, usage.WithTotals())
		}
		fileSrc, err := usage.NewFileSource(cfg.UsageSourceFile, paths, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open usage file: %w", err)
		}
		src, closer = fileSrc, fileSrc
	default:
		return nil, nil, errors.New("no usage source: set USAGE_SOURCE_URL or USAGE_SOURCE_FILE")
	}

	if cfg.UsageSourceCumulative {
		src = usage.NewCumulative(src)
	}
	return src, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func runOnce(ctx context.Context, mon *services.Monitor) error {
	sample, err := mon.Collector().Collect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Sample: %s tokens, %s requests, %.0f tokens/h\n",
		humanize.Comma(sample.TokensUsed), humanize.Comma(sample.RequestsCount), sample.TokensPerHour)

	res, err := mon.Predictor().Predict(ctx)
	if err != nil {
		return err
	}
	switch {
	case res.Exhaustion == nil:
		fmt.Println("Prediction: not enough history")
	case res.Exhaustion.Unbounded():
		fmt.Printf("Prediction: unbounded (confidence %.0f%%)\n", res.Exhaustion.Confidence*100)
	default:
		fmt.Printf("Prediction: exhausted in %.1f h, %s (confidence %.0f%%)\n",
			*res.Exhaustion.HoursRemaining, humanize.Time(*res.Exhaustion.ExhaustionTime),
			res.Exhaustion.Confidence*100)
	}
	return nil
}

func runTUI(ctx context.Context, cfg *config.Config, mon *services.Monitor) error {
	model := app.NewModel(mon)
	state := model.GetState()
	model.SetTabs([]app.Tab{
		dashboard.New(state, dashboard.Config{
			WarningPct:  cfg.Thresholds.WarningPct,
			CriticalPct: cfg.Thresholds.CriticalPct,
			Version:     version.GetVersion(),
		}),
		alerts.New(state),
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running watch view: %w", err)
	}
	return nil
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Println(`tokenwatch - token budget monitor

Usage:
  tokenwatch [flags]

Flags:`)
	fmt.Print(fs.FlagUsages())
	fmt.Println(`
Keyboard Shortcuts:
  1-2             Switch between tabs (Dashboard, Alerts)
  Tab/Shift+Tab   Navigate between tabs
  j/k, Up/Down    Navigate lists
  Enter, a        Acknowledge the selected alert
  r               Reload from storage
  ?               Toggle help
  q, Ctrl+C       Quit

Environment Variables:
  DATABASE_URL            PostgreSQL DSN (primary storage)
  FALLBACK_DB_PATH        SQLite file used when the primary is unreachable
  TOKEN_QUOTA             Token budget per quota window
  USAGE_SOURCE_URL        JSON endpoint reporting usage
  USAGE_SOURCE_FILE       JSON file reporting usage
  METRICS_ADDR            Listen address for /metrics and /healthz

Configuration:
  The application looks for .env files in the following locations:
  - Current directory
  - ~/.config/tokenwatch/.env
  - ~/.tokenwatch/.env`)
}
