package engine

import (
	"io"
	"log/slog"
	"strings"

	"github.com/louisbranch/metis/internal/platform/config"
)

// Config holds the engine settings read from the environment.
type Config struct {
	// EnvironmentsDir holds one subdirectory per scripted environment. Empty
	// skips loading.
	EnvironmentsDir   string `env:"METIS_ENVIRONMENTS_DIR"`
	InfiniteResources bool   `env:"METIS_INFINITE_RESOURCES"`
	InferTargets      bool   `env:"METIS_INFER_TARGETS"`
	LogLevel          string `env:"METIS_LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"METIS_LOG_FORMAT" envDefault:"text"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	return config.Load[Config]()
}

// NewLogger builds a logger for the configured level and format. It does
// not replace the default logger.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
