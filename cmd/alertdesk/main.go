package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"alertdesk/internal/app"
	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/httpapi"
	"alertdesk/internal/ingest"
)

// main starts the alert dashboard service from one TOML config file.
// Params: CLI flag --config-file.
// Returns: process exit code by startup/run result.
func main() {
	configFile := flag.String("config-file", "", "path to one TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(cfg, clock.RealClock{}, buildHTTP, buildIngest)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}

// buildHTTP wires the gin API server from service dependencies.
// Params: dependency bundle from the service.
// Returns: router used as the http.Server handler.
func buildHTTP(deps app.HTTPDeps) http.Handler {
	auth := httpapi.NewAuthenticator(deps.Config.HTTP, deps.Config.TokenTTL(), deps.Clock)
	server := httpapi.NewServer(auth, deps.Alerts, deps.Rules, deps.Dashboard, deps.Sweeps, deps.Runner, deps.Ready, deps.Log)
	return server.Router()
}

// buildIngest starts the NATS report subscriber.
// Params: ingest config, URLs, alert manager, and logger.
// Returns: closable subscriber handle.
func buildIngest(cfg config.NATSIngestConfig, urls []string, alerts *app.AlertManager, log *slog.Logger) (interface{ Close() error }, error) {
	return ingest.NewNATSSubscriber(cfg, urls, alerts, log)
}
