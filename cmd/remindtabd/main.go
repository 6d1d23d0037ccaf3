package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remindtab/internal/api"
	"remindtab/internal/config"
	"remindtab/internal/core"
	"remindtab/internal/holiday"
	"remindtab/internal/logging"
	remindmcp "remindtab/internal/mcp"
	"remindtab/internal/notify"
	"remindtab/internal/service"
	"remindtab/internal/store"
)

var version = "dev"

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout belongs to the MCP protocol whenever stdio is served.
	var logOut io.Writer = os.Stdout
	if cfg.Server.Mode != "http" {
		logOut = os.Stderr
	}
	logger := logging.New(cfg.Log.Level, logOut)

	if err := run(cfg, logger); err != nil {
		logger.Error("remindtabd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeInst, err := store.Open(ctx, cfg.StateDir, cfg.RunRetention)
	if err != nil {
		return err
	}
	defer storeInst.Close()

	location := cfg.Location()

	var syncer *holiday.Syncer
	if cfg.Holiday.Enabled() {
		client := holiday.NewClient(holiday.ClientConfig{
			URLTemplate: cfg.Holiday.URLTemplate,
			AppID:       cfg.Holiday.AppID,
			AppSecret:   cfg.Holiday.AppSecret,
			Timeout:     cfg.Holiday.Timeout,
		}, nil)
		syncer = holiday.NewSyncer(storeInst, client, logger)
		syncer.EnsureCurrentAndNext(ctx, time.Now().In(location))
	} else {
		logger.Warn("holiday provider not configured, calendar filtered tasks wait for manual sync")
	}

	calc := core.NewCalculator(storeInst, logger, location, cfg.Scheduler.MaxSearchAttempts)
	dispatcher := notify.NewDispatcher(dispatcherConfig(cfg), logger)

	opts := core.SchedulerOptions{
		MaintenanceSpec: cfg.Scheduler.MaintenanceSpec,
		Workers:         cfg.Scheduler.Workers,
		RecurringGrace:  cfg.Scheduler.RecurringGrace,
		OneShotGrace:    cfg.Scheduler.OneShotGrace,
	}
	// Assigned only when set so the interface stays nil otherwise.
	var calendarSyncer core.CalendarSyncer
	if syncer != nil {
		calendarSyncer = syncer
		opts.Syncer = syncer
	}
	scheduler := core.NewScheduler(storeInst, calc, dispatcher, logger, opts)

	if err := scheduler.ReconcileOnStartup(ctx); err != nil {
		logger.Error("startup reconciliation", "err", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	reminders := service.NewReminders(storeInst, scheduler, calendarSyncer, logger)
	mcpServer := remindmcp.NewMCPServer(reminders, logger, location, version)

	errc := make(chan error, 2)
	var server *api.Server
	if cfg.Server.Mode != "mcp" {
		server = api.NewServer(cfg.Server.Addr, reminders, logger, location, api.Options{
			AuthToken:  cfg.Server.AuthToken,
			MCPHandler: mcpServer.HTTPHandler(),
			Channels:   dispatcher.Channels(),
		})
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}
	if cfg.Server.Mode != "http" {
		go func() {
			// Returns when stdin closes.
			errc <- mcpServer.Run()
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-errc:
		if err != nil {
			logger.Error("server error", "err", err)
		} else {
			logger.Info("mcp session closed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler stop timed out")
	}
	logger.Info("shutdown complete")
	return nil
}

func dispatcherConfig(cfg *config.Config) notify.DispatcherConfig {
	n := cfg.Notification
	dc := notify.DispatcherConfig{
		HTTPClient: &http.Client{Timeout: n.Timeout},
		Mail: notify.MailConfig{
			Host:     n.Mail.Host,
			Port:     n.Mail.Port,
			Username: n.Mail.Username,
			Password: n.Mail.Password,
			From:     n.Mail.From,
		},
		Twilio: notify.TwilioConfig{
			AccountSID:   n.Twilio.AccountSID,
			AuthToken:    n.Twilio.AuthToken,
			From:         n.Twilio.From,
			WhatsAppFrom: n.Twilio.WhatsAppFrom,
		},
		BarkURL:       n.Bark.URL,
		RatePerSecond: n.RatePerSecond,
		Burst:         n.Burst,
	}
	if n.DefaultWebhook.URL != "" {
		dc.DefaultWebhook = &core.WebhookChannel{
			URL:             n.DefaultWebhook.URL,
			Method:          n.DefaultWebhook.Method,
			Headers:         n.DefaultWebhook.Headers,
			PayloadTemplate: n.DefaultWebhook.Template,
		}
	}
	return dc
}
