package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"tradecore/internal/app"
	"tradecore/internal/cache"
	"tradecore/internal/infra"
	"tradecore/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs or the OS config dir)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	workDir := flag.String("workspace", "", "runtime data directory (default: ./_workspace or the OS data dir)")
	pprofAddr := flag.String("pprof", "", "pprof listen address, e.g. localhost:6060")
	report := flag.Bool("report", false, "print orders, positions and accounts from the record store and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("ENV_LOAD_FAILED", slog.String("file", *envFile), slog.Any("error", err))
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		slog.Error("CONFIG_LOAD_FAILED", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}
	dir := *workDir
	if dir == "" {
		dir = infra.GetWorkspaceDir()
	}

	if *report {
		infra.NewLogger(cfg)
		if err := printReport(cfg, dir); err != nil {
			slog.Error("REPORT_FAILED", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, dir, *pprofAddr); err != nil {
		slog.Error("ENGINE_FAILED", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *infra.Config, workDir, pprofAddr string) error {
	infra.PrintBanner(os.Stdout, cfg)

	bootstrap := app.NewBootstrap()
	if err := bootstrap.InitializeWith(cfg, workDir); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Recover(ctx); err != nil {
		return err
	}
	seq := bootstrap.Sequencer
	if err := seq.CheckIntegrity(); err != nil {
		slog.Warn("RECOVERED_STATE_INCONSISTENT", slog.Any("error", err))
	}

	if pprofAddr != "" {
		go func() {
			slog.Info("PPROF_SERVER_STARTED", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("PPROF_SERVER_FAILED", slog.Any("error", err))
			}
		}()
	}

	var metrics *http.Server
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", bootstrap.Reporter.Handler())
		metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("METRICS_SERVER_STARTED", slog.String("addr", addr))
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("METRICS_SERVER_FAILED", slog.Any("error", err))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	slog.InfoContext(ctx, "ENGINE_RUNNING", slog.Uint64("next_seq", seq.NextSeq()))

	<-ctx.Done()
	slog.Info("SHUTDOWN_STARTED")
	<-done

	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			slog.Warn("METRICS_SHUTDOWN_FAILED", slog.Any("error", err))
		}
	}

	if err := seq.CheckIntegrity(); err != nil {
		slog.Error("SHUTDOWN_INTEGRITY_FAILED", slog.Any("error", err))
	}
	seq.Cache().CheckResiduals()
	slog.Info("SHUTDOWN_COMPLETED", slog.Uint64("next_seq", seq.NextSeq()))
	return nil
}

// printReport loads the record tables into a cache and prints them.
// It does not take the workspace lock, so it can run beside a live engine.
func printReport(cfg *infra.Config, workDir string) error {
	store, err := storage.NewEventStore(infra.ResolveDataPath(workDir, cfg.Storage.SQLitePath))
	if err != nil {
		return err
	}
	defer store.Close()

	c := cache.New(store)
	if err := c.Load(context.Background()); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tINSTRUMENT\tSIDE\tTYPE\tSTATUS\tFILLED\tAVG_PX")
	for _, o := range c.Orders(cache.Filter{}) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ClientOrderID, o.InstrumentID, o.Side, o.Type, o.Status, o.FilledQty, o.AvgPx)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "POSITION\tINSTRUMENT\tSIDE\tQTY\tAVG_OPEN\tREALIZED")
	for _, p := range c.Positions(cache.Filter{}) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Instrument.ID, p.Side, p.Quantity, p.AvgPxOpen, p.RealizedPnL())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ACCOUNT\tCURRENCY\tTOTAL\tLOCKED")
	for _, a := range c.Accounts() {
		for _, code := range a.Currencies() {
			b := a.Balances[code]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, code, b.Total, b.Locked)
		}
	}
	return w.Flush()
}
