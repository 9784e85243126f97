// Package cmd holds the startup plumbing shared by command binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/louisbranch/metis/internal/platform/config"
	"github.com/louisbranch/metis/internal/platform/otel"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// ServiceMissionCtl names the missionctl binary in traces and logs.
const ServiceMissionCtl = "missionctl"

type runSettings struct {
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// RunOption adjusts RunWithTelemetry.
type RunOption func(*runSettings)

// WithShutdownTimeout bounds the telemetry flush after run returns.
func WithShutdownTimeout(d time.Duration) RunOption {
	return func(s *runSettings) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets the logger used for run lifecycle messages.
func WithLogger(logger *slog.Logger) RunOption {
	return func(s *runSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags. Flags override values already loaded
// from the environment.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry sets up tracing for service, runs run and flushes pending
// spans before returning run's error.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error, opts ...RunOption) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	settings := runSettings{
		shutdownTimeout: defaultOTelShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			settings.logger.Warn("otel shutdown failed", "service", service, "error", err)
		}
	}()

	start := time.Now()
	err = run(ctx)
	settings.logger.Debug("run finished", "service", service, "elapsed", time.Since(start), "ok", err == nil)
	return err
}
