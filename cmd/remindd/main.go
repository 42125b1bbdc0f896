// Command remindd runs the reminder engine: the dispatch and escalation
// loops plus the JSON API and response webhook.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/discord"
	"github.com/remindlab/remind/reminder"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		core.NewProductionLogger("remindd", core.ErrorLevel).Error("Invalid configuration", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		os.Exit(1)
	}

	logger := core.NewProductionLogger("remindd", core.ParseLogLevel(cfg.LogLevel))
	logger.Info("Starting remindd", map[string]interface{}{
		"operation":           "startup",
		"http_addr":           cfg.HTTPAddr,
		"dispatch_interval":   cfg.DispatchInterval.String(),
		"escalation_interval": cfg.EscalationInterval.String(),
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("remindd exited with error", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
		os.Exit(1)
	}
}

func run(cfg *core.Config, logger *core.ProductionLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := core.NewRedisClient(cfg.RedisURL, cfg.RedisDB, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	repo := reminder.NewRedisRepository(client,
		reminder.WithRepositoryKeyPrefix(cfg.KeyPrefix),
		reminder.WithRepositoryLogger(logger),
	)

	signer, err := reminder.NewAckLinkSigner(cfg.AckSecret)
	if err != nil {
		return err
	}

	transportOpts := []discord.TransportOption{
		discord.WithTransportLogger(logger),
	}
	if cfg.PublicBaseURL != "" {
		transportOpts = append(transportOpts, discord.WithAckLinks(signer, strings.TrimSuffix(cfg.PublicBaseURL, "/")))
	}
	transport, err := discord.NewTransport(cfg.BotToken, cfg.AppID, transportOpts...)
	if err != nil {
		return err
	}

	service := reminder.NewService(repo, transport,
		reminder.WithServiceLogger(logger),
	)
	engine := reminder.NewEngine(service,
		reminder.WithEngineLogger(logger),
	)
	service.SetEscalationEngine(engine)
	dispatcher := reminder.NewDispatcher(service, logger)

	runner := reminder.NewRunner(logger)
	if err := runner.Add("dispatch", cfg.DispatchInterval, dispatcher); err != nil {
		return err
	}
	if err := runner.Add("escalation", cfg.EscalationInterval, engine); err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	api := reminder.NewAPI(service, cfg, signer, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{
			"operation": "startup",
			"addr":      cfg.HTTPAddr,
		})
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
