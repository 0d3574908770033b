// Package main implements the respond binary: an HTTP server whose
// responses are declared in YAML or scripted in Lua.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"responsekit/internal/config"
	"responsekit/internal/logging"
	"responsekit/internal/server"
)

const Version = "1.0.0"

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if loaded, err := loadEnvFile(".env"); err == nil && loaded {
		slog.Info("env_file_loaded", "file", ".env", "component", "startup")
	}
}

// loadEnvFile sets KEY=VALUE lines from path that are not already set in the
// environment. Blank lines and lines starting with # are ignored.
func loadEnvFile(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq > 0 {
			k := strings.TrimSpace(line[:eq])
			v := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
			if _, exists := os.LookupEnv(k); !exists {
				os.Setenv(k, v)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func main() {
	cfgPath := flag.String("config", envOr("RESPOND_CONFIG", "config.yaml"), "path to YAML config")
	addr := flag.String("addr", os.Getenv("RESPOND_ADDR"), "listen address (overrides server.addr)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err, "path", *cfgPath, "component", "startup")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, logOut, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("logging_setup_failed", "error", err, "component", "startup")
		os.Exit(1)
	}
	defer logOut.Close()
	slog.SetDefault(logger)

	srv, err := server.New(cfg, Version)
	if err != nil {
		slog.Error("server_creation_failed", "error", err, "component", "startup")
		os.Exit(1)
	}

	if err := runServer(srv, cfg.Server); err != nil {
		slog.Error("server_run_failed", "error", err, "component", "startup")
		logOut.Close()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// runServer runs the server until a signal arrives or a listener fails, then
// shuts everything down within cfg.ShutdownTimeout.
func runServer(srv *server.Server, cfg config.ServerConfig) error {
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	var debugServer *http.Server
	if cfg.DebugAddr != "" {
		debugServer = &http.Server{
			Addr:              cfg.DebugAddr,
			Handler:           http.DefaultServeMux, // pprof registers itself here
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	if debugServer != nil {
		g.Go(func() error {
			slog.Info("pprof_server_starting", "address", cfg.DebugAddr, "component", "startup")
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("pprof_server_failed", "error", err, "component", "startup")
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("server_starting",
			"version", Version,
			"address", cfg.Addr,
			"h2c", cfg.H2C,
			"component", "startup")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String(), "component", "startup")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown_initiated", "component", "startup")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if debugServer != nil {
			_ = debugServer.Shutdown(shutdownCtx)
		}
		err := httpServer.Shutdown(shutdownCtx)
		srv.Stop()
		if err != nil {
			slog.Error("server_shutdown_forced", "error", err, "component", "startup")
			return err
		}
		slog.Info("server_shutdown_graceful", "component", "startup")
		return nil
	})

	return g.Wait()
}
