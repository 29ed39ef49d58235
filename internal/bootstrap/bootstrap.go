package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/conversation"
	"taskbot/internal/httpapi"
	"taskbot/internal/i18n"
	"taskbot/internal/logging"
	"taskbot/internal/repl"
	"taskbot/internal/scheduler"
	"taskbot/internal/service"
	"taskbot/internal/storage"
	"taskbot/internal/tui"

	"github.com/sirupsen/logrus"
)

// BuildResult 持有组装好的组件；调用方负责 Close
// BuildResult holds the wired components. The caller must Close it.
type BuildResult struct {
	Config    config.Config
	Logger    *logging.Logger
	Messages  *i18n.I18n
	Store     storage.Store
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Machine   *conversation.Machine

	// Exactly one of these is set, per cfg.Transport.Kind.
	repl    *repl.Loop
	bridge  *tui.Bridge
	gateway *httpapi.Server

	log *logrus.Entry
}

// Build 按顺序初始化：日志 → 仓库 → 服务 → 调度器 → 状态机 → 传输
// Build wires logger → store → service → scheduler → machine → transport.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	logger, err := logging.New(logging.Options{
		SystemName: "taskbot",
		Path:       cfg.Log.Path,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Stderr:     cfg.Log.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	res := &BuildResult{
		Config:   cfg,
		Logger:   logger,
		Messages: i18n.New(cfg.Locale),
		log:      logger.Component("bootstrap"),
	}

	if err := res.openStore(ctx); err != nil {
		_ = res.Close()
		return nil, err
	}

	res.Service = service.New(res.Store, service.WithLogger(logger.Component("service")))
	if err := res.buildTransport(); err != nil {
		_ = res.Close()
		return nil, err
	}
	res.log.WithFields(logrus.Fields{
		"driver":    cfg.Storage.Driver,
		"transport": cfg.Transport.Kind,
		"locale":    res.Messages.Locale(),
	}).Info("taskbot ready")
	return res, nil
}

// Run 运行调度器、会话清理和前台传输，直到 ctx 取消或传输退出
// Run drives the scheduler, the session janitor and the foreground transport
// until ctx is cancelled or the transport exits.
func (r *BuildResult) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := r.Scheduler.Run(ctx); err != nil {
			r.log.WithError(err).Error("scheduler stopped")
		}
	}()
	go func() {
		defer wg.Done()
		sweepSessions(ctx, r.Machine, r.Config.Conversation.SweepInterval(), r.log)
	}()

	err := r.serve(ctx)
	cancel()
	wg.Wait()
	return err
}

func (r *BuildResult) serve(ctx context.Context) error {
	switch {
	case r.repl != nil:
		return r.repl.Run(ctx, r.Machine)
	case r.bridge != nil:
		return tui.Run(ctx, tui.Options{
			UserID:    r.Config.Transport.ConsoleUserID,
			Handler:   r.Machine,
			Counts:    r.counts(r.Config.Transport.ConsoleUserID),
			Messages:  r.Messages,
			AutoStart: true,
		}, r.bridge)
	case r.gateway != nil:
		return r.gateway.Run(ctx)
	default:
		return errors.New("no transport configured")
	}
}

// Close releases the terminal, the store and the log file.
func (r *BuildResult) Close() error {
	var errs []error
	if r.repl != nil {
		errs = append(errs, r.repl.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	if r.Logger != nil {
		errs = append(errs, r.Logger.Close())
	}
	return errors.Join(errs...)
}

// sweepSessions purges abandoned conversation state every interval.
func sweepSessions(ctx context.Context, m *conversation.Machine, every time.Duration, log *logrus.Entry) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				log.WithField("sessions", n).Debug("swept idle sessions")
			}
		}
	}
}
