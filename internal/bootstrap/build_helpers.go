package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"taskbot/internal/config"
	"taskbot/internal/conversation"
	"taskbot/internal/httpapi"
	"taskbot/internal/notify"
	"taskbot/internal/repl"
	"taskbot/internal/scheduler"
	"taskbot/internal/storage"
	"taskbot/internal/tasks"
	"taskbot/internal/tui"

	"github.com/sirupsen/logrus"
)

func (r *BuildResult) openStore(ctx context.Context) error {
	cfg := r.Config.Storage
	store, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Driver,
		SQLitePath:    cfg.SQLitePath,
		JSONPath:      cfg.JSONPath,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	r.Store = store

	if cfg.LegacyJSONPath == "" {
		return nil
	}
	report, err := storage.MigrateLegacyJSON(ctx, cfg.LegacyJSONPath, store)
	if err != nil {
		return fmt.Errorf("migrate legacy data: %w", err)
	}
	log := r.Logger.Component("storage")
	for _, w := range report.Warnings {
		log.WithField("file", cfg.LegacyJSONPath).Warn(w)
	}
	if report.Lists > 0 {
		log.WithFields(logrus.Fields{
			"lists":     report.Lists,
			"tasks":     report.Tasks,
			"completed": report.Completed,
			"users":     report.Users,
		}).Info("imported legacy task lists")
	}
	return nil
}

// buildTransport picks the chat surface and builds the scheduler and the
// conversation machine on top of it.
func (r *BuildResult) buildTransport() error {
	cfg := r.Config
	hook, err := outbound(cfg.Delivery, r.Logger.Component("notify"))
	if err != nil {
		return err
	}

	var (
		chat      notify.Transport
		reminders notify.Notifier
	)
	switch cfg.Transport.Kind {
	case config.TransportREPL, "":
		loop, err := repl.NewLoop(repl.Options{
			UserID:      cfg.Transport.ConsoleUserID,
			HistoryPath: filepath.Join(cfg.BaseDir, "repl.history"),
			Messages:    r.Messages,
			Log:         r.Logger.Component("repl"),
			AutoStart:   true,
		})
		if err != nil {
			return err
		}
		r.repl = loop
		chat = mirror(loop.Transport(), hook)
		reminders = chat
	case config.TransportTUI:
		r.bridge = tui.NewBridge()
		chat = mirror(r.bridge, hook)
		reminders = mirror(notifierTransport{r.bridge.Reminders()}, hook)
	case config.TransportHTTP:
		if hook == nil {
			return errors.New("delivery.webhook_url is required for the http transport")
		}
		chat = hook
		reminders = hook
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}

	r.Scheduler = scheduler.New(r.Store, reminders,
		scheduler.WithLogger(r.Logger.Component("scheduler")),
		scheduler.WithMessages(r.Messages),
		scheduler.WithIntervals(cfg.Scheduler.Fallback(), cfg.Scheduler.Floor()),
	)
	r.Service.OnReminderSet(r.Scheduler.ReminderSet)

	r.Machine = conversation.New(r.Service, chat,
		conversation.WithLogger(r.Logger.Component("conversation")),
		conversation.WithMessages(r.Messages),
		conversation.WithIdleTimeout(cfg.Conversation.IdleTimeout()),
	)

	if cfg.Transport.Kind == config.TransportHTTP {
		handler := httpapi.NewHandler(r.Machine, r.Service, r.Logger.Component("http"))
		r.gateway = httpapi.NewServer(cfg.Transport.HTTPAddr, handler)
	}
	return nil
}

// outbound returns the breaker-guarded webhook, or nil when no URL is set.
func outbound(cfg config.DeliveryConfig, log *logrus.Entry) (notify.Transport, error) {
	if cfg.WebhookURL == "" {
		return nil, nil
	}
	hook, err := notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, cfg.Timeout())
	if err != nil {
		return nil, fmt.Errorf("init webhook: %w", err)
	}
	return notify.NewBreaker(hook, notify.BreakerSettings{
		Name:                "webhook",
		MaxRequests:         uint32(cfg.Breaker.MaxRequests),
		Timeout:             cfg.Breaker.Open(),
		ConsecutiveFailures: uint32(cfg.Breaker.ConsecutiveFailures),
	}, log), nil
}

// mirror copies local output to the webhook when one is configured.
func mirror(local notify.Transport, hook notify.Transport) notify.Transport {
	if hook == nil {
		return local
	}
	return notify.Fanout{local, hook}
}

// notifierTransport lets a text-only notifier sit in a Fanout.
type notifierTransport struct {
	notify.Notifier
}

func (notifierTransport) PresentMenu(context.Context, string, notify.Menu) error { return nil }

// counts feeds the TUI sidebar. A user without a list has nothing yet.
func (r *BuildResult) counts(userID string) tui.CountsFunc {
	return func(ctx context.Context) (int, int, error) {
		active, err := r.Service.ActiveTasks(ctx, userID)
		if errors.Is(err, tasks.ErrListNotFound) {
			return 0, 0, nil
		}
		if err != nil {
			return 0, 0, err
		}
		completed, err := r.Service.CompletedTasks(ctx, userID)
		if err != nil {
			return 0, 0, err
		}
		return len(active), len(completed), nil
	}
}
