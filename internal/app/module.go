// Package app composes the engine and the TUI shell with fx.
package app

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"homechat/internal/backend"
	"homechat/internal/bus"
	"homechat/internal/config"
	"homechat/internal/convo"
	"homechat/internal/logging"
	"homechat/internal/poller"
	"homechat/internal/session"
	"homechat/internal/transport"
	"homechat/internal/tui"
	"homechat/internal/typing"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("homechat",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideBackend,
			provideTransport,
			provideStore,
			provideTyping,
			provideSession,
			providePoller,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	logPath := p.Config.LogFile
	if logPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logPath = filepath.Join(home, ".homechat", "homechat.log")
	}
	return logging.New(logPath, p.Config.UserID, false)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideBackend(p Params) *backend.Client {
	return backend.NewClient(p.Config.BaseURL, p.Config.Token)
}

func provideTransport(p Params, b *bus.Bus, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(transport.Options{
		Dialer:      &transport.WSDialer{BaseURL: p.Config.BaseURL, Token: p.Config.Token},
		MaxAttempts: p.Config.ReconnectAttempts,
		BaseDelay:   p.Config.ReconnectBase.Duration,
		MaxDelay:    p.Config.ReconnectMax.Duration,
	}, b, logger)
}

func provideStore(b *bus.Bus) *convo.Store {
	return convo.New(b)
}

func provideTyping(p Params, tr *transport.Manager, b *bus.Bus, logger *zap.Logger) *typing.Coordinator {
	return typing.New(typing.Options{
		IdleStop: p.Config.TypingIdleStop.Duration,
	}, tr, b, logger)
}

func provideSession(p Params, b *bus.Bus, client *backend.Client, tr *transport.Manager, store *convo.Store, ty *typing.Coordinator, logger *zap.Logger) *session.Session {
	return session.New(session.Deps{
		SelfID:    p.Config.UserID,
		Bus:       b,
		Backend:   client,
		Transport: tr,
		Store:     store,
		Typing:    ty,
		Logger:    logger,
	})
}

func providePoller(p Params, client *backend.Client, s *session.Session, b *bus.Bus, logger *zap.Logger) *poller.Poller {
	pl := poller.New(poller.Options{
		Interval: p.Config.PollInterval.Duration,
	}, client, s, b, logger)
	s.AttachPoller(pl)
	return pl
}

func provideApp(p Params, s *session.Session, store *convo.Store, ty *typing.Coordinator, tr *transport.Manager, b *bus.Bus) *tui.App {
	return tui.NewApp(tui.Deps{
		SelfID:    p.Config.UserID,
		SelfName:  p.Config.UserName,
		Session:   s,
		Store:     store,
		Typing:    ty,
		Transport: tr,
		Bus:       b,
	})
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, s *session.Session, _ *poller.Poller, app *tui.App, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := s.Start(context.Background()); err != nil {
				return err
			}
			go func() {
				if err := app.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			app.Stop()
			s.Close()
			logger.Info("session closed")
			return nil
		},
	})
}
