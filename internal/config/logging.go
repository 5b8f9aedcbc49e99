package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const masked = "****"

// ParseLevel converts a level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a text logger writing to w. Stdout must not be used
// while serving MCP over stdio.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return masked
}

// Log logs the resolved settings
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: embedding", "value", EmbeddingSettingsLogValue(s.Embedding))
	logger.InfoContext(ctx, "Config: qdrant", "value", QdrantSettingsLogValue(s.Qdrant))
	logger.InfoContext(ctx, "Config: indexing",
		"enabled", s.Indexing.Enabled,
		"batch_size", s.Indexing.BatchSize,
		"max_concurrent_jobs", s.Indexing.MaxConcurrentJobs,
		"watch", s.Indexing.Watch)
	logger.InfoContext(ctx, "Config: db_path", "value", s.DBPath)
	if s.Tracing.Endpoint != "" {
		logger.InfoContext(ctx, "Config: tracing.endpoint", "value", s.Tracing.Endpoint)
	}
}

// EmbeddingSettingsLogValue returns a slog.Value for EmbeddingSettings with masked data
func EmbeddingSettingsLogValue(s EmbeddingSettings) slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.Provider),
		slog.String("model", s.Model),
		slog.String("base_url", s.BaseURL),
		slog.Int("dimension", s.Dimension),
		slog.String("api_key", mask(s.APIKey)),
	)
}

// QdrantSettingsLogValue returns a slog.Value for QdrantSettings with masked data
func QdrantSettingsLogValue(s QdrantSettings) slog.Value {
	return slog.GroupValue(
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Bool("use_tls", s.UseTLS),
		slog.String("api_key", mask(s.APIKey)),
	)
}
