package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/netdef"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	model      *netdef.Model
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and the network
// description already loaded.
func NewApp(outW io.Writer, appConfig *Config) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := netdef.Load(ctx, appConfig.NetworkPath)
	if err != nil {
		// A failure to load the description is a fatal startup error.
		panic(fmt.Errorf("failed to load network description: %w", err))
	}
	logger.Debug("Network description loaded into unified model.")

	return &App{
		outW:   outW,
		logger: logger,
		config: appConfig,
		model:  model,
	}
}

// Model returns the loaded network description. This is primarily for testing.
func (a *App) Model() *netdef.Model {
	return a.model
}
