package daemon

import (
	"context"
	"errors"
	"io/fs"

	"github.com/matheus3301/chatkit/internal/api"
	"github.com/matheus3301/chatkit/internal/bus"
	"github.com/matheus3301/chatkit/internal/chatkit"
	"github.com/matheus3301/chatkit/internal/config"
	"github.com/matheus3301/chatkit/internal/credential"
	"github.com/matheus3301/chatkit/internal/lock"
	"github.com/matheus3301/chatkit/internal/logging"
	"github.com/matheus3301/chatkit/internal/session"
	"github.com/matheus3301/chatkit/internal/store"
	intsync "github.com/matheus3301/chatkit/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideGlobal,
			provideSessionConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTokenProvider,
			provideChat,
			provideSyncEngine,
			provideFollower,
			provideSessionService,
			provideRoomService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// provideGlobal tolerates a missing global config.
func provideGlobal() (*config.Global, error) {
	g, err := config.LoadGlobal(session.GlobalConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return &config.Global{}, nil
	}
	return g, err
}

func provideSessionConfig(p Params) (*config.Session, error) {
	return config.LoadSession(session.ConfigPath(p.SessionName), session.EnvPath(p.SessionName))
}

func provideLogger(p Params, g *config.Global) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, g.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, cfg *config.Session, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), cfg.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokenProvider(cfg *config.Session) credential.Provider {
	return credential.NewHTTPProvider(cfg.TokenEndpoint, cfg.TokenHeaders)
}

func provideChat(cfg *config.Session, provider credential.Provider, b *bus.Bus, logger *zap.Logger) (*chatkit.Session, error) {
	return chatkit.New(cfg.Chatkit(), provider, b, logger.Named("chatkit"))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, chat *chatkit.Session, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, chat, logger.Named("sync"))
}

func provideFollower(b *bus.Bus, chat *chatkit.Session, logger *zap.Logger) *intsync.Follower {
	return intsync.NewFollower(chat, b, logger.Named("follow"))
}

func provideSessionService(p Params, chat *chatkit.Session, b *bus.Bus, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, chat, b, db)
}

func provideRoomService(db *store.DB, chat *chatkit.Session) *api.RoomService {
	return api.NewRoomService(db, chat)
}

func provideMessageService(db *store.DB, chat *chatkit.Session) *api.MessageService {
	return api.NewMessageService(db, chat)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, chat *chatkit.Session, engine *intsync.Engine, follower *intsync.Follower, b *bus.Bus, logger *zap.Logger) {
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine must be subscribed before the first event is applied.
			engine.Start(context.Background())
			follower.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				cu, err := chat.Connect(connectCtx, nil)
				if err != nil {
					logger.Warn("initial connect did not complete; retrying in background", zap.Error(err))
					return
				}
				logger.Info("session active", zap.String("user_id", cu.ID), zap.Int("rooms", len(cu.RoomIDs)))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelConnect()
			follower.Stop()
			err := chat.Close()
			engine.Stop()
			// Closing the bus ends open Watch streams so the server can drain.
			b.Close()
			srv.Stop(ctx)
			err = multierr.Append(err, db.Close())
			if rerr := lk.Release(); rerr != nil {
				logger.Warn("error releasing lock", zap.Error(rerr))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return err
		},
	})
}
