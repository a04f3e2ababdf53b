package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elvcal/internal/clock"
	"elvcal/internal/config"
	"elvcal/internal/elvanto"
	appLog "elvcal/internal/log"
	"elvcal/internal/metrics"
	"elvcal/internal/model"
	"elvcal/internal/refresh"
	"elvcal/internal/schedule"
	"elvcal/internal/store"
	"elvcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	test       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Init(conf.Log.Development); err != nil {
		appLog.Error("failed to initialize logger", err)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	defer appLog.Sync()

	appLog.Info("elvcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.Refresh,
		"api_key_configured", conf.APIKey != "",
		"window_months", conf.WindowMonths,
		"store", conf.Store.Backend,
		"once", flags.once,
		"test", flags.test,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	loc := clock.LoadLocation(conf.Timezone)
	clk := clock.System(loc)

	client := elvanto.New(
		elvanto.WithBaseURL(conf.APIBaseURL),
		elvanto.WithTimeout(time.Duration(conf.TimeoutSeconds)*time.Second),
	)

	if flags.test {
		report, err := client.TestConnection(ctx, conf.APIKey, clock.DayWindow(clk, 7))
		if err != nil {
			appLog.Error("connection test failed", err)
			return 1
		}
		printJSON(report)
		return 0
	}

	metrics.Init()

	st, err := store.New(ctx, conf.Store)
	if err != nil {
		appLog.Error("failed to open store", err, "backend", conf.Store.Backend)
		return 1
	}
	defer st.Close()

	refresher := refresh.New(st, client, clk,
		refresh.WithLinkText(func() string { return conf.ServiceLinks }),
		refresh.WithWindowMonths(conf.WindowMonths),
	)

	if flags.once {
		res := refresher.Run(ctx, conf.APIKey)
		printJSON(res.Snapshot.Diagnostics)
		if res.Ran && res.Snapshot.Status == model.StatusFailure {
			return 1
		}
		return 0
	}

	sched, err := schedule.New(conf.Refresh, loc, func() {
		refresher.Run(ctx, conf.APIKey)
	})
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.Refresh)
		return 1
	}
	sched.Start()

	// Initial refresh so the API has data before the first scheduled run.
	go refresher.Run(ctx, conf.APIKey)

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, refresher, client, clk, web.WithNextRefresh(sched.Next)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			code = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		appLog.Info("refresh still running at shutdown; abandoning")
	}

	appLog.Info("elvcal exiting")
	return code
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/elvcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print its diagnostics and exit")
	flag.BoolVar(&cfg.test, "test", false, "Test the API connection and exit")

	flag.Parse()

	return cfg
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write output", err)
	}
}
