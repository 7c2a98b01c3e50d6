package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/exchange/brokerage/internal/reconcile"
)

type reconciliationConfig struct {
	DBURL      string
	CashAsset  string
	Verbose    bool
	Alert      bool
	ReportPath string
	Cron       string
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconciliationConfig, error) {
	fs := flag.NewFlagSet("reconciliation", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconciliationConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.CashAsset, "cash-asset", "TRY", "cash asset reserved by BUY orders")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")
	fs.BoolVar(&cfg.Alert, "alert", true, "return non-zero exit code on discrepancy")
	fs.StringVar(&cfg.ReportPath, "report", "", "write detailed report to file")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled reconciliation runs")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	cfg.CashAsset = strings.ToUpper(strings.TrimSpace(cfg.CashAsset))
	if cfg.CashAsset == "" {
		return cfg, errors.New("--cash-asset must not be empty")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}
	return runOnce(ctx, cfg, out, errOut, opener)
}

func runOnce(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	code, err := runWithDB(ctx, db, cfg, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		if code == 0 {
			code = 2
		}
	}
	return code
}

func runScheduled(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting scheduled reconciliation...")
	}

	scheduledCfg := cfg
	scheduledCfg.Alert = false

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code == 2 {
		return code
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled reconciliation...")
		}
		if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code != 0 {
			fmt.Fprintf(errOut, "scheduled reconciliation exited with code %d\n", code)
		}
	}))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return 0
}

func runWithDB(ctx context.Context, db *sql.DB, cfg reconciliationConfig, out, errOut io.Writer) (int, error) {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting reconciliation checks...")
	}

	report, err := reconcile.NewChecker(db, cfg.CashAsset).Run(ctx)
	if err != nil {
		return 2, fmt.Errorf("reconciliation failed: %w", err)
	}

	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			return 2, fmt.Errorf("failed to write report: %w", err)
		}
	}

	if report.OK() {
		fmt.Fprintf(out, "✓ Reconciliation passed: %d customers, %d balances checked\n", report.CustomerCount, report.BalanceCount)
		return 0, nil
	}

	for _, d := range report.Discrepancies {
		fmt.Fprintf(errOut, "✗ Discrepancy found: %s\n", d)
	}
	if cfg.Alert {
		return 1, nil
	}
	return 0, nil
}

func writeReport(path string, report *reconcile.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
