package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gencache/gencache/internal/auditlog"
	"github.com/gencache/gencache/internal/config"
	"github.com/gencache/gencache/internal/engine"
	"github.com/gencache/gencache/internal/metrics"
	"github.com/gencache/gencache/internal/proxy"
	"github.com/gencache/gencache/internal/tokenizer"
	"github.com/gencache/gencache/internal/tracing"
	"github.com/gencache/gencache/internal/vault"
	"github.com/gencache/gencache/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the proxy server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Cache.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Logging.Level)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "gencache.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground || cfg.Logging.Verbose {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "gencache").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("gencache starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("gencache is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the cache engine and the audit log.
	eng, err := engine.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening cache engine: %w", err)
	}
	defer eng.Shutdown()

	log.Info().Str("journal_path", eng.JournalPath()).Msg("cache engine opened")

	audit, err := auditlog.Open(cfg.Cache.AuditPath())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer audit.Close()

	log.Info().Str("audit_path", audit.Path()).Msg("audit log opened")

	// 4. Create the metrics collector.
	collector := metrics.NewCollector()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher for hot-reloadable fields.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Logging.Level)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Start periodic audit log pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, audit, cfg.Cache.RetentionDays)
	}()

	// 8. Start distributed tracing, if enabled.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialised")
		}
	}

	// ---------------------------------------------------------------
	// 9. Wire up the proxy stack.
	// ---------------------------------------------------------------

	apiKey := ""
	if cfg.Upstream.APIKeyRef != "" {
		v := vault.New()
		key, err := v.ResolveKeyRef(cfg.Upstream.APIKeyRef)
		if err != nil {
			log.Warn().Err(err).Msg("failed to resolve upstream API key; requests will be sent unauthenticated")
		} else {
			apiKey = key
		}
	}

	upstreamClient := proxy.NewUpstreamClient(cfg.Upstream.BaseURL, apiKey, cfg.Upstream.TimeoutDuration())

	var cb *proxy.CircuitBreaker
	if cfg.Resilience.CBEnabled {
		cb = proxy.NewCircuitBreaker(
			cfg.Resilience.CBFailureThreshold,
			time.Duration(cfg.Resilience.CBResetTimeoutSec)*time.Second,
			cfg.Resilience.CBHalfOpenMax,
		)
	} else {
		// A breaker with an unreachable threshold never trips.
		cb = proxy.NewCircuitBreaker(1<<30, time.Hour, 1<<30)
	}

	retryConfig := proxy.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
	}

	resilient := proxy.NewResilientClient(upstreamClient, cb, retryConfig)

	tok := tokenizer.New()

	handler := proxy.NewHandler(eng, resilient, collector, audit, tok, log.Logger, cfg.Server.MaxBodySize)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second

	srv := proxy.NewServer(handler, collector, addr, readTimeout, writeTimeout, idleTimeout, cfg.Tracing.Enabled)

	errCh := make(chan error, 1)

	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", addr).Msg("proxy server starting (TLS)")
			if err := srv.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("proxy server: %w", err)
			}
		} else {
			log.Info().Str("addr", addr).Msg("proxy server starting")
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("proxy server: %w", err)
			}
		}
	}()

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}

	log.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Int("port", cfg.Server.Port).
		Bool("tls", cfg.Server.TLSEnabled).
		Msg("gencache is ready")

	if foreground {
		fmt.Printf("\n  gencache is running!\n")
		fmt.Printf("  Proxy: %s://localhost:%d\n\n", scheme, cfg.Server.Port)
	}

	// 10. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 11. Graceful shutdown with a 30-second grace period.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy server shutdown error")
	}

	// 12. Stop background work; the engine's own Shutdown (deferred above)
	// drains the journal before releasing the cache file.
	pruneCancel()
	<-prunerDone

	log.Info().Msg("gencache stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Cache.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("gencache does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("gencache is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to gencache (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Cache.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("gencache is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("gencache is running (PID %d)\n", pid)

	statsURL := fmt.Sprintf("http://%s:%d/cache/stats", cfg.Server.BindAddress, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (proxy unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Total Responses: %v\n", stats["total_responses"])
	fmt.Printf("  Cache Hits:     %v\n", stats["hits"])
	fmt.Printf("  Cache Misses:   %v\n", stats["misses"])

	return nil
}

// runPruner periodically prunes old audit log entries.
func runPruner(ctx context.Context, audit *auditlog.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("audit log pruner: recovered from panic")
					}
				}()
				n, err := audit.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("audit log pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old audit entries")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
