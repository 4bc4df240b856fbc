// Package app wires the deploy driver together: logger, deploy config,
// stage registry, worker executor, and the pipeline itself.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/modeldeploy/internal/config"
	"github.com/vk/modeldeploy/internal/ctxlog"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	DeployCfgPath  string
	ModelCfgPath   string
	CheckpointPath string
	ImgPath        string

	WorkDir   string
	Device    string
	LogLevel  string
	LogFormat string
	Show      bool
}

// App encapsulates the driver's dependencies and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	appConfig *Config
	deploy    *config.Deploy
}

// NewApp constructs the driver with its own isolated logger and a fully
// loaded, validated deploy config. A config that does not load is a fatal
// startup error, surfaced as a panic that the caller recovers into a clean
// exit message.
func NewApp(outW io.Writer, appConfig *Config, loader *config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	deploy, err := loader.Load(ctx, appConfig.DeployCfgPath)
	if err != nil {
		panic(fmt.Errorf("failed to load deploy config: %w", err))
	}
	logger.Debug("Deploy config loaded and validated.")

	return &App{
		outW:      outW,
		logger:    logger,
		appConfig: appConfig,
		deploy:    deploy,
	}
}

// Deploy returns the loaded deploy config. This is primarily for testing.
func (a *App) Deploy() *config.Deploy {
	return a.deploy
}
