package telemetry

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// SetupLogger builds a zap logger for mode ("prod" or "dev") and installs it as
// the slog default. The returned func flushes buffered entries.
func SetupLogger(mode string) (func(), error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	slog.SetDefault(slog.New(zapslog.NewHandler(z.Core())))

	return func() { _ = z.Sync() }, nil
}
