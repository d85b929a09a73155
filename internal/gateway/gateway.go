// ABOUTME: Gateway orchestrator wiring store, queues, dispatcher and channels
// ABOUTME: Manages HTTP (or tsnet) serving, cron maintenance and shutdown order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/parleyhq/parley-gateway/internal/agent"
	"github.com/parleyhq/parley-gateway/internal/analytics"
	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/channels"
	"github.com/parleyhq/parley-gateway/internal/config"
	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/documents"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
	"github.com/parleyhq/parley-gateway/internal/session"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// claimPollInterval is how often idle queue workers look for new jobs.
const claimPollInterval = 250 * time.Millisecond

// Gateway orchestrates the parley-gateway server components: the session
// layer over WebSocket, the ticket endpoint, the job queues with their
// workers, and the delivery channel adapters.
type Gateway struct {
	config     *config.Config
	store      store.Store
	tickets    *auth.TicketService
	dispatcher *dispatch.Dispatcher
	queues     *jobs.Manager
	pool       *jobs.Pool
	registry   *session.Registry
	publisher  analytics.Publisher

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	cron        *cron.Cron

	// telegram long-polls for inbound updates when configured
	telegram *channels.TelegramBridge
	// whatsapp holds a live client connection that must be closed on shutdown
	whatsapp *channels.WhatsAppSender

	promRegistry *prometheus.Registry
	logger       *slog.Logger
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// registerQueues creates every known queue on the manager, applying global
// defaults and then per-queue overrides from config.
func registerQueues(m *jobs.Manager, qc config.QueuesConfig) error {
	base := jobs.Options{
		Workers:    qc.Workers,
		MaxWaiting: qc.MaxWaiting,
		Policy: retry.Policy{
			MaxAttempts: qc.MaxAttempts,
			BaseDelay:   qc.BackoffBase,
			MaxDelay:    qc.BackoffCap,
		},
	}

	for _, name := range jobs.KnownQueues() {
		opts := base
		if ov, ok := qc.Overrides[name]; ok {
			if ov.Workers > 0 {
				opts.Workers = ov.Workers
			}
			if ov.MaxAttempts > 0 {
				opts.Policy.MaxAttempts = ov.MaxAttempts
			}
			if ov.MaxWaiting > 0 {
				opts.MaxWaiting = ov.MaxWaiting
			}
			if ov.BackoffBase != "" {
				d, err := time.ParseDuration(ov.BackoffBase)
				if err != nil {
					return fmt.Errorf("queue %s: parsing backoff_base %q: %w", name, ov.BackoffBase, err)
				}
				opts.Policy.BaseDelay = d
			}
			if ov.BackoffCap != "" {
				d, err := time.ParseDuration(ov.BackoffCap)
				if err != nil {
					return fmt.Errorf("queue %s: parsing backoff_cap %q: %w", name, ov.BackoffCap, err)
				}
				opts.Policy.MaxDelay = d
			}
		}
		m.Register(name, opts)
	}
	return nil
}

// droppingSender logs and discards outbound jobs for a channel whose adapter
// is not configured. Keeps the queue draining instead of growing unbounded.
func droppingSender(name string, logger *slog.Logger) channels.Sender {
	return channels.SenderFunc(func(_ context.Context, recipient, _ string) error {
		logger.Warn("dropping outbound message: channel adapter disabled",
			"channel", name, "recipient", recipient)
		return nil
	})
}

// New creates a Gateway from configuration. The context is used for adapter
// startup (the WhatsApp client may pair interactively on first run).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := jobs.NewMetrics(promRegistry)

	queues := jobs.NewManager(metrics, logger)
	if err := registerQueues(queues, cfg.Queues); err != nil {
		return nil, err
	}

	if cfg.Agent.APIKey == "" {
		return nil, errors.New("agent.api_key is required")
	}
	agentClient, err := agent.NewClient(agent.Config{
		APIKey:         cfg.Agent.APIKey,
		BaseURL:        cfg.Agent.BaseURL,
		Model:          cfg.Agent.Model,
		EmbeddingModel: cfg.Agent.EmbeddingModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating agent client: %w", err)
	}

	dispatcher := dispatch.New(s, agentClient, queues, cfg.Dispatch.DedupWindow, logger)
	tickets := auth.NewTicketService([]byte(cfg.Auth.TicketSecret), cfg.Auth.TicketTTL, s)
	registry := session.NewRegistry()

	gw := &Gateway{
		config:       cfg,
		store:        s,
		tickets:      tickets,
		dispatcher:   dispatcher,
		queues:       queues,
		registry:     registry,
		promRegistry: promRegistry,
		logger:       logger.With("component", "gateway"),
	}

	pool := jobs.NewPool(queues, logger, claimPollInterval)
	pool.Handle(jobs.QueueMessages, dispatch.NewInboundHandler(dispatcher))
	pool.Handle(jobs.QueueDocuments, documents.NewProcessor(s, agentClient, logger))

	deliverer := channels.NewWebhookDeliverer(cfg.Channels.Webhook.SigningSecret, cfg.Channels.Webhook.Timeout, logger)
	pool.Handle(jobs.QueueWebhooks, channels.NewWebhookHandler(deliverer))

	var notifier channels.Notifier = channels.NopNotifier{}
	if cfg.Channels.Slack.Enabled {
		notifier = channels.NewSlackNotifier(cfg.Channels.Slack.BotToken, cfg.Channels.Slack.Channel, logger)
	}
	pool.Handle(jobs.QueueNotifications, channels.NewNotificationHandler(notifier))

	gw.publisher = analytics.NopPublisher{}
	if cfg.Analytics.Enabled {
		gw.publisher = analytics.NewKafkaPublisher(cfg.Analytics.Brokers, cfg.Analytics.Topic, logger)
	}
	pool.Handle(jobs.QueueAnalytics, analytics.NewHandler(gw.publisher))

	if err := gw.wireSenders(ctx, pool, logger); err != nil {
		return nil, err
	}
	gw.pool = pool

	if err := gw.setupCron(); err != nil {
		return nil, err
	}

	mux := gw.newMux()
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// wireSenders attaches an outbound handler to each send queue, using the
// configured adapter or a dropping sender when the adapter is disabled.
func (g *Gateway) wireSenders(ctx context.Context, pool *jobs.Pool, logger *slog.Logger) error {
	cfg := g.config.Channels

	var waSender channels.Sender
	if cfg.WhatsApp.Enabled {
		wa, err := channels.NewWhatsAppSender(ctx, cfg.WhatsApp.DBPath, logger)
		if err != nil {
			return fmt.Errorf("starting whatsapp client: %w", err)
		}
		g.whatsapp = wa
		waSender = wa
	} else {
		waSender = droppingSender("whatsapp", g.logger)
	}
	pool.Handle(jobs.QueueWhatsApp, channels.NewOutboundHandler(waSender))

	var tgSender channels.Sender
	if cfg.Telegram.Enabled {
		bridge, err := channels.NewTelegramBridge(cfg.Telegram.BotToken, cfg.Telegram.Channel, g.queues, logger)
		if err != nil {
			return fmt.Errorf("creating telegram bridge: %w", err)
		}
		g.telegram = bridge
		tgSender = bridge
	} else {
		tgSender = droppingSender("telegram", g.logger)
	}
	pool.Handle(jobs.QueueTelegram, channels.NewOutboundHandler(tgSender))

	var emailSender channels.Sender
	if cfg.Email.Enabled {
		emailSender = channels.NewEmailSender(channels.EmailConfig{
			Addr:     cfg.Email.SMTPAddr,
			From:     cfg.Email.From,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}, logger)
	} else {
		emailSender = droppingSender("email", g.logger)
	}
	pool.Handle(jobs.QueueEmail, channels.NewOutboundHandler(emailSender))

	return nil
}

// setupCron schedules queue maintenance: periodic stats snapshots to the log
// and pruning of old terminal jobs.
func (g *Gateway) setupCron() error {
	qc := g.config.Queues
	if qc.SnapshotCron == "" && qc.PruneCron == "" {
		return nil
	}

	g.cron = cron.New()
	if qc.SnapshotCron != "" {
		if _, err := g.cron.AddFunc(qc.SnapshotCron, g.logSnapshot); err != nil {
			return fmt.Errorf("scheduling snapshot cron %q: %w", qc.SnapshotCron, err)
		}
	}
	if qc.PruneCron != "" {
		retain := qc.RetainFor
		if _, err := g.cron.AddFunc(qc.PruneCron, func() {
			removed := g.queues.Prune(retain)
			if removed > 0 {
				g.logger.Info("pruned finished jobs", "removed", removed)
			}
		}); err != nil {
			return fmt.Errorf("scheduling prune cron %q: %w", qc.PruneCron, err)
		}
	}
	return nil
}

// logSnapshot writes one log line per queue with its current counters.
func (g *Gateway) logSnapshot() {
	snap := g.queues.Stats()
	for _, name := range snap.QueueNames() {
		qs := snap.Stats[name]
		g.logger.Info("queue snapshot", "queue", name,
			"waiting", qs.Waiting, "active", qs.Active, "delayed", qs.Delayed,
			"completed", qs.Completed, "failed", qs.Failed, "retried", qs.Retried)
	}
}

// setupListener creates the HTTP listener, over tsnet when enabled.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default under
// the home directory when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "parley-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on :80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// Run starts the gateway and blocks until the context is canceled or a
// component fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if err := g.pool.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting worker pool: %w", err)
	}
	if g.cron != nil {
		g.cron.Start()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.telegram != nil {
		group.Go(func() error {
			g.telegram.Start(groupCtx)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return g.gracefulShutdown()
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// gracefulShutdown performs shutdown with a fresh context. The original
// context is already canceled by the time this runs.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends a labeled error if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers and releases resources. Sessions are closed
// before the worker pool so in-flight dispatches can finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.registry.CloseAll()
	g.pool.Stop()

	if g.cron != nil {
		<-g.cron.Stop().Done()
	}
	if g.whatsapp != nil {
		g.whatsapp.Close()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	errs = appendCloseError(errs, "analytics close", g.publisher.Close())
	g.dispatcher.Close()
	g.tickets.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
