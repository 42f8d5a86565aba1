// Command uichat runs the automation engine as a daemon: it supervises the
// browser, associates tabs with providers and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	uichat "github.com/uichat/uichat"
	"github.com/uichat/uichat/adapter"
	"github.com/uichat/uichat/httpapi"
	"github.com/uichat/uichat/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "uichat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr    = flag.String("listen", "127.0.0.1:8900", "HTTP API listen address")
		browserPath   = flag.String("browser", "chromium", "browser binary to launch")
		controlPort   = flag.Int("control-port", 9222, "remote debugging port")
		profileDir    = flag.String("profile-dir", defaultProfileDir(), "browser profile directory (reused across restarts)")
		pidfile       = flag.String("pidfile", defaultPidfile(), "browser pidfile path")
		adapterFile   = flag.String("adapters", "", "YAML adapter file (empty: built-ins)")
		logLevel      = flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
		logCategories = flag.String("log-categories", "", "regexp filtering log categories")
		stopGrace     = flag.Duration("stop-grace", 5*time.Second, "graceful browser shutdown window")
		leaveBrowser  = flag.Bool("leave-browser", false, "keep the browser running on exit")
	)
	flag.Parse()

	base := logrus.New()
	var filter *regexp.Regexp
	if *logCategories != "" {
		var err error
		if filter, err = regexp.Compile(*logCategories); err != nil {
			return fmt.Errorf("compiling -log-categories: %w", err)
		}
	}
	logger := log.New(base, filter)
	if err := logger.SetLevel(*logLevel); err != nil {
		return fmt.Errorf("setting log level: %w", err)
	}

	adapters := adapter.Builtins()
	if *adapterFile != "" {
		loaded, err := adapter.LoadFile(*adapterFile)
		if err != nil {
			return err
		}
		adapters = loaded
	}

	engine, err := uichat.New(uichat.Config{
		BrowserPath: *browserPath,
		ProfileDir:  *profileDir,
		ControlPort: *controlPort,
		Pidfile:     *pidfile,
		Adapters:    adapters,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s uichat listening on http://%s (providers: %v)\n",
		green("▶"), *listenAddr, engine.Providers())

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           httpapi.New(engine, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if *leaveBrowser {
		return nil
	}
	return engine.Shutdown(shutdownCtx, *stopGrace)
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uichat/profile"
	}
	return filepath.Join(home, ".uichat", "profile")
}

func defaultPidfile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uichat/browser.pid"
	}
	return filepath.Join(home, ".uichat", "browser.pid")
}
