// Package app wires configuration, logging, storage and the HTTP surface
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"os"

	"kumo-stream-go/pkg/config"
	"kumo-stream-go/pkg/handlers/api"
	"kumo-stream-go/pkg/history"
	"kumo-stream-go/pkg/httpclient"
	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/metadata"
	"kumo-stream-go/pkg/probe"
	"kumo-stream-go/pkg/proxy"
	"kumo-stream-go/pkg/server"
)

// App holds the assembled application.
type App struct {
	cfg    *config.Config
	log    *logging.Logger
	store  history.Store
	server *server.Server
}

// New builds the application from configuration.
func New(cfg *config.Config, version string) (*App, error) {
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	client, err := httpclient.New(cfg.Proxy, log)
	if err != nil {
		return nil, fmt.Errorf("building http client: %w", err)
	}

	store, err := history.OpenSQLite(cfg.History.Path, cfg.History.Limit)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	relay := proxy.NewRelay(client, cfg.Proxy.UserAgent, log)
	prober := probe.NewProber(client, cfg.Proxy.UserAgent, log)

	var meta *metadata.Client
	if cfg.Metadata.BaseURL != "" {
		meta = metadata.New(cfg.Metadata, client, log)
	}

	srv := server.New(cfg.Server, log)
	api.New(relay, store, prober, meta, log, version).Register(srv.Router())

	return &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		server: srv,
	}, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	defer a.store.Close()
	return a.server.Start()
}

// Shutdown stops the server and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
