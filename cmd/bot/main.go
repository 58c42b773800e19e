// Command bot runs the automated trading bot, or queries/controls one
// already running.
//
// Usage:
//
//	bot run [--log-level LEVEL] [--live]
//	bot --status
//	bot --kill
//
// Architecture:
//
//	main.go                     — entry point: parses the CLI surface, loads config, starts/stops the engine
//	engine/engine.go            — orchestrator: wires store → adapter → wallet → risk → orders → positions → strategies
//	exchange/client.go          — REST client for the exchange's CLOB API
//	exchange/auth.go            — L1 (EIP-712) and L2 (HMAC) authentication
//	exchange/ws.go              — market-data streaming client with auto-reconnect/resubscribe
//	exchange/wallet.go          — read-only on-chain balance checks
//	risk/manager.go             — the twelve ordered pre-trade checks, the daily-loss halt and the durable kill switch
//	execution/order_manager.go  — rate-limited, serialized order submission
//	execution/position_manager.go — take-profit/stop-loss/trailing-stop/resolution lifecycle
//	strategy/mirror.go          — worked-example strategy: mirrors an external wallet's positions
//	store/store.go              — the persistent relational store (SQLite)
//	notify/                     — operator HTTP/WebSocket surface: status, events, chat commands
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/engine"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	statusFlag := flag.Bool("status", false, "query a running instance's status and exit")
	killFlag := flag.Bool("kill", false, "trip a running instance's kill switch and exit")
	liveFlag := flag.Bool("live", false, "override trading_mode to live")
	logLevel := flag.String("log-level", "", "DEBUG, INFO, WARNING, or ERROR")
	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	flag.CommandLine.Parse(args)
	if rest := flag.CommandLine.Args(); len(rest) > 0 && rest[0] == "run" {
		flag.CommandLine.Parse(rest[1:])
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *liveFlag {
		cfg.TradingMode = "live"
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *statusFlag {
		return queryStatus(cfg.Health.Port)
	}
	if *killFlag {
		return triggerKill(cfg.Health.Port)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	logger := buildLogger(cfg.Logging)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 1
	}

	if err := eng.Start(context.Background()); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	logger.Info("bot started", "trading_mode", cfg.TradingMode, "health_port", cfg.Health.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()

	if sig == syscall.SIGINT {
		return 130
	}
	return 0
}

func defaultConfigPath() string {
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// queryStatus hits a running instance's /api/status endpoint and prints
// the result. Exit code 1 if no instance is reachable.
func queryStatus(port int) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/status", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running instance reachable on port %d: %v\n", port, err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read status response: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request failed: %s\n", body)
		return 1
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}
	return 0
}

// triggerKill posts a confirmed kill-switch request to a running instance.
func triggerKill(port int) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://127.0.0.1:%d/api/kill", port), "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running instance reachable on port %d: %v\n", port, err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read kill response: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "kill request failed: %s\n", body)
		return 1
	}
	fmt.Println(string(body))
	return 0
}
