// Package commands provides CLI command implementations.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	claimflow "github.com/claimflow/claimflow/pkg/claimflow"
)

// Serve command flags
var (
	serveConfigPath string
	serveAgents     []string
	serveVerbose    bool
)

// ServeCmd runs the engine as a long-lived daemon.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the claims engine daemon",
	Long: `Run the claims engine as a long-lived process.

The daemon periodically:
  - Expires claims past their TTL
  - Marks stale and blocked-too-long work as stealable
  - Checks load imbalance across registered agents

It also serves Prometheus metrics and, when configured, republishes
every audit event to NATS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := claimflow.LoadConfig(serveConfigPath)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if serveVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		engine, err := claimflow.New(claimflow.Options{
			Config:     &cfg,
			Logger:     logger,
			Registerer: prometheus.DefaultRegisterer,
		})
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		for _, spec := range serveAgents {
			agent, err := parseAgentSpec(spec)
			if err != nil {
				return err
			}
			if err := engine.Agents.Register(agent); err != nil {
				return err
			}
			logger.Info("agent registered", "id", agent.ID, "type", agent.AgentType, "maxClaims", agent.MaxClaims)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.Handler(),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()

		fmt.Printf("claimflow daemon running (metrics on %s)\n", cfg.MetricsAddr)

		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return metricsServer.Shutdown(shutdownCtx)

			case <-ticker.C:
				sweep(ctx, engine, logger)
			}
		}
	},
}

func sweep(ctx context.Context, engine *claimflow.Engine, logger *slog.Logger) {
	expired, err := engine.Claims.ExpireStale(ctx)
	if err != nil {
		logger.Error("expiry sweep failed", "error", err)
	} else if len(expired) > 0 {
		logger.Info("claims expired", "count", len(expired))
	}

	marked, err := engine.Stealing.DetectStaleWork(ctx)
	if err != nil {
		logger.Error("stale work sweep failed", "error", err)
	} else if len(marked) > 0 {
		logger.Info("stale work marked stealable", "count", len(marked))
	}

	report, err := engine.Balancer.DetectImbalance(ctx)
	if err != nil {
		logger.Error("imbalance check failed", "error", err)
		return
	}
	if report.Detected {
		logger.Warn("load imbalance detected",
			"score", report.Score, "severity", report.Severity)
	}
}

// parseAgentSpec parses "id:type" or "id:type:maxClaims".
func parseAgentSpec(spec string) (*claimflow.Agent, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid agent spec %q, want id:type[:maxClaims]", spec)
	}

	maxClaims := 10
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid maxClaims in agent spec %q", spec)
		}
		maxClaims = n
	}

	return &claimflow.Agent{
		ID:        parts[0],
		AgentType: parts[1],
		MaxClaims: maxClaims,
	}, nil
}

func init() {
	ServeCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
	ServeCmd.Flags().StringSliceVar(&serveAgents, "agent", nil, "Agent to register, id:type[:maxClaims] (repeatable)")
	ServeCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Debug logging")
}
