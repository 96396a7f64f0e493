// Command coefeed fetches COE bidding results from data.gov.sg and publishes
// the v1 JSON artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheEverestLab/coesg-data/internal/artifact"
	"github.com/TheEverestLab/coesg-data/internal/config"
	"github.com/TheEverestLab/coesg-data/internal/export"
	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/scheduler"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "coefeed"

type flags struct {
	configPath string
	outputDir  string
	logMode    string
	force      bool
	dryRun     bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	f := &flags{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, aggregate and publish once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), f)
		},
	}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "COE bidding results feed",
		Long: `coefeed fetches Singapore COE bidding results from data.gov.sg,
groups them into rounds and publishes static JSON artifacts:

  v1/latest.json     latest and previous round
  v1/history.json    every round, newest first
  v1/analytics.json  per-category statistics
  v1/schedule.json   upcoming bidding closings

Without a subcommand it behaves like "run".`,
		SilenceUsage: true,
		RunE:         runCmd.RunE,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file (default $"+config.EnvConfigFile+")")
	pf.StringVarP(&f.outputDir, "output", "o", "", "Output directory (overrides OUTPUT_DIR)")
	pf.StringVar(&f.logMode, "log-mode", "", "Log mode: dev or prod (overrides LOG_MODE)")
	pf.BoolVar(&f.force, "force", false, "Publish even when history is unchanged")
	pf.BoolVar(&f.dryRun, "dry-run", false, "Aggregate and report without writing anything")

	cmd.AddCommand(runCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Run on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduled(cmd.Context(), f)
		},
	})

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the published history as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(f, exportPath)
		},
	}
	exportCmd.Flags().StringVar(&exportPath, "xlsx", "coe-history.xlsx", "Workbook path")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func setup(f *flags) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.logMode != "" {
		cfg.LogMode = f.logMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	cfg.Print(log)
	return cfg, log, nil
}

func runOnce(ctx context.Context, f *flags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(f)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(ctx, cfg, f, log)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = a.runner.Run(ctx)
	return err
}

func runScheduled(ctx context.Context, f *flags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(f)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(ctx, cfg, f, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(log, func(ctx context.Context) error {
		_, err := a.runner.Run(ctx)
		return err
	}, scheduler.Config{
		Spec:       cfg.ScheduleCron,
		RunOnStart: cfg.RunOnStart,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down")
	sched.Stop()
	return nil
}

func runExport(f *flags, target string) error {
	cfg, log, err := setup(f)
	if err != nil {
		return err
	}
	defer log.Sync()

	historyPath := filepath.Join(cfg.OutputDir, artifact.Version, artifact.HistoryFile)
	history, err := artifact.ReadHistory(historyPath)
	if err != nil {
		return err
	}
	if history == nil {
		return fmt.Errorf("%s not found, run a publish first", historyPath)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if err := export.WriteXLSX(out, history); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	log.Info("Exported history", "path", target, "rounds", len(history))
	return nil
}
