package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatpilot/internal/audit"
	"github.com/ziadkadry99/chatpilot/internal/bot"
	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/db"
	"github.com/ziadkadry99/chatpilot/internal/logging"
	"github.com/ziadkadry99/chatpilot/internal/media"
	"github.com/ziadkadry99/chatpilot/internal/metrics"
	"github.com/ziadkadry99/chatpilot/internal/monitor"
	"github.com/ziadkadry99/chatpilot/internal/server"
	"github.com/ziadkadry99/chatpilot/internal/tools"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
	"github.com/ziadkadry99/chatpilot/internal/webhook"
)

const (
	mediaTTL      = 15 * time.Minute
	sweepInterval = 5 * time.Minute
	shutdownGrace = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatbot webhook server",
	Long: `Loads the Wassenger device, prepares labels and the webhook, then starts
the HTTP server that receives inbound messages and replies to them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	log := logging.Component(logger, "serve")

	client := newWassengerClient(cfg, logger)
	device, err := prepareDevice(ctx, cfg, client, log)
	if err != nil {
		return err
	}

	backend, err := createBackendFromConfig(cfg)
	if err != nil {
		return err
	}

	kb, err := loadKnowledge(cfg, log)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}

	files, err := media.NewStore(cfg.Media.TempDir, mediaTTL)
	if err != nil {
		return err
	}
	go sweepMedia(ctx, files, log)

	registry := bot.NewToolRegistry()
	if err := tools.Register(registry, time.Now); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	hub := monitor.NewHub(cfg.Server.AllowAllOrigins, logging.Component(logger, "monitor"))
	collector := metrics.New()
	observers := bot.Observers{collector}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		database, err := db.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit database: %w", err)
		}
		defer database.Close()
		auditStore = audit.NewStore(database)
		observers = append(observers, audit.NewRecorder(auditStore, logging.Component(logger, "audit"), hub.Publish))
	} else {
		observers = append(observers, bot.ObserverFunc(func(_ context.Context, e bot.Event) {
			hub.Publish(audit.FromEvent(e))
		}))
	}

	deps := bot.Deps{
		Messenger: client,
		Provider:  backend,
		Tools:     registry,
		Audio:     files,
		Observer:  observers,
		Logger:    logging.Component(logger, "bot"),
	}
	if cfg.Media.AudioInput {
		deps.Transcriber = backend
	}
	if cfg.Media.AudioOutput {
		deps.Synthesizer = backend
	}
	if kb != nil {
		deps.Knowledge = kb
	}
	engine := bot.New(cfg, *device, deps)

	srv := server.New(server.Config{
		Port:     cfg.Port,
		AllowAll: cfg.Server.AllowAllOrigins,
	}, logging.Component(logger, "http"))

	limit, err := server.RateLimit(cfg.Server.RateLimit)
	if err != nil {
		return fmt.Errorf("invalid server.rate_limit: %w", err)
	}

	router := srv.Router()
	webhook.New(engine, client, files, *device, logging.Component(logger, "webhook")).RegisterRoutes(router, limit)
	if auditStore != nil {
		audit.RegisterRoutes(router, auditStore)
	}
	hub.RegisterRoutes(router)
	router.Handle("/metrics", collector.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	engine.Wait()
	return nil
}

// prepareDevice resolves the WhatsApp device and makes sure the team
// members, labels and webhook the bot relies on exist.
func prepareDevice(ctx context.Context, cfg *config.Config, client *wassenger.Client, log *logrus.Entry) (*wassenger.Device, error) {
	device, err := client.LoadDevice(ctx, cfg.Wassenger.Device)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}
	log = log.WithFields(logrus.Fields{"device": device.ID, "phone": device.Phone})
	log.Info("using WhatsApp device")

	members := append(append([]string{}, cfg.Assignment.TeamWhitelist...), cfg.Assignment.TeamBlacklist...)
	if err := client.ValidateMembers(ctx, device.ID, members); err != nil {
		return nil, err
	}

	labels := append(append([]string{}, cfg.Labels.OnBotChats...), cfg.Labels.OnUserAssignment...)
	if err := client.EnsureLabels(ctx, device.ID, labels); err != nil {
		return nil, fmt.Errorf("preparing labels: %w", err)
	}

	if cfg.WebhookURL == "" {
		log.Warn("webhook_url is not set, register the webhook manually in Wassenger")
		return device, nil
	}
	hook, err := client.RegisterWebhook(ctx, cfg.WebhookURL, device.ID)
	if err != nil {
		return nil, fmt.Errorf("registering webhook: %w", err)
	}
	log.WithField("webhook", hook.URL).Info("webhook ready")
	return device, nil
}

func sweepMedia(ctx context.Context, files *media.Store, log *logrus.Entry) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := files.Sweep()
			if err != nil {
				log.WithError(err).Warn("sweeping media files")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Debug("expired media files removed")
			}
		}
	}
}
