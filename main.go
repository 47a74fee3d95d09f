// Program tlsgate serves HTTPS through a connection-aware listener and runs a
// ClientHello callback exactly once per TLS connection, no matter how many
// requests the connection carries. Connection ids are remembered in a bounded,
// idle-evicting cache so long-running processes do not grow without limit.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tlsgate/config"
	"tlsgate/hellogate"
	"tlsgate/internal/logging"
	"tlsgate/listener"
	"tlsgate/stats"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "TLSGATE_CONFIG_PATH"
	shutdownTimeout   = 10 * time.Second
)

// Version will be set at build time
var Version = "dev"

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// loadEnvFile reads .env into the process environment when present. Values
// already set in the environment win.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadGateConfig tries the env override first, then the default config dir.
func loadGateConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

func main() {
	if err := loadEnvFile(".env"); err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, configSource, err := loadGateConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, err := logging.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		log.Printf("Warning: file logging disabled: %v", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("tlsgate v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)
	cfg.Print()

	tracker := stats.NewTracker()
	hellos := newHelloLog(log.Default(), tracker)
	gate, err := hellogate.New(hellogate.Config[*http.Request]{
		CacheSizeLimit: cfg.Gate.CacheSizeLimit,
		IdleTimeout:    cfg.Gate.IdleTimeout(),
		SweepInterval:  cfg.Gate.SweepInterval(),
		Callback:       hellos.Record,
		Logger:         log.Default(),
		Stats:          tracker,
	})
	if err != nil {
		log.Fatalf("Error starting gate: %v", err)
	}

	var tlsConfig *tls.Config
	if cfg.Listener.TLSEnabled() {
		tlsConfig, err = listener.LoadTLSConfig(cfg.Listener.CertFile, cfg.Listener.KeyFile)
		if err != nil {
			log.Fatalf("Error loading TLS certificate: %v", err)
		}
	} else {
		log.Printf("Listener: no certificate configured; serving plain HTTP and no ClientHello will be captured")
	}

	mux := http.NewServeMux()
	mux.Handle("/", statusHandler(gate))
	server := listener.NewHTTPServer(listener.HTTPServerConfig{
		Addr:          cfg.Listener.Addr,
		TLSConfig:     tlsConfig,
		Handler:       listener.Middleware(gate, log.Default(), mux),
		MaxHelloBytes: cfg.Listener.MaxHelloBytes,
		Logger:        log.Default(),
		Stats:         tracker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Error starting listener: %v", err)
	}

	fanout.SetRotateHook(func(prevDate time.Time, _, _ string) {
		fanout.WriteFileOnlyLine(fmt.Sprintf("Stats: totals through %s: %s", prevDate.Format("2006-01-02"), formatGateLine(gate.Stats())))
	})
	display := newStatsDisplay(gate, tracker, fanout, isStdoutTTY())
	go display.Run(ctx, cfg.Stats.Interval())
	maybeStartHeapLogger(gate)
	maybeStartDiagServer(gate)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.Printf("Listening on %s. Press Ctrl+C to stop.", server.Addr())

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	// Stop the listener first so no request can reach a closed gate.
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Warning: listener shutdown: %v", err)
	}
	if err := gate.Close(shutdownCtx); err != nil {
		log.Printf("Warning: gate shutdown: %v", err)
	}
	log.Printf("Final: %s", formatGateLine(gate.Stats()))
	log.Println("tlsgate stopped")
}
