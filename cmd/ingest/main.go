// Command ingest loads brand knowledge into the vector index and evaluates
// retrieval quality offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brand-assistant/backend/internal/app"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/pkg/config"
	appLogger "github.com/brand-assistant/backend/pkg/logger"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "ingest",
	Short:         "Brand knowledge base tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory containing config.yaml")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openApp loads configuration and connects every backend. Callers must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	metrics.Init()
	return app.New(ctx, cfg)
}
