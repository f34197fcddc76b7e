package main

import (
	"io"
	"net/http"
	"os"

	"github.com/spf13/viper"

	"github.com/kimhsiao/matchday/backend/internal/config"
	"github.com/kimhsiao/matchday/backend/internal/connectivity"
	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	syncpkg "github.com/kimhsiao/matchday/backend/internal/sync"
	"github.com/kimhsiao/matchday/backend/internal/sync/conflict"
	"github.com/kimhsiao/matchday/backend/internal/sync/download"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
)

// app is the wired sync core for one command invocation.
type app struct {
	cfg   *config.Config
	viper *viper.Viper

	kv         db.KV
	store      *store.Store
	queue      *queue.SyncQueue
	buffer     *offline.Buffer
	remote     remote.Store
	engine     *syncpkg.SyncEngine
	monitor    *connectivity.Monitor
	prober     *connectivity.Prober
	downloader *download.Downloader

	logCloser io.Closer
}

// openApp loads the configuration and builds every component on top of the
// configured storage backend. Callers must close the returned app.
func openApp(opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, v, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if logOut == nil {
		logOut = os.Stderr
	}
	closer, err := logging.Configure(logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		Output:     logOut,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, viper: v, logCloser: closer}

	switch {
	case opts.demo:
		fake := remote.NewFake()
		fake.AssignIDs = true
		seedDemo(fake)
		a.remote = fake
		if cfg.User.ID == "" {
			cfg.User = config.UserConfig{ID: demoUserID, IsAdmin: true}
		}
	case cfg.Remote.URL == "":
		a.close()
		return nil, apperrors.New(apperrors.ErrConfigInvalid, "remote.url is required unless --demo is set")
	default:
		a.remote = remote.NewHTTPStore(remote.HTTPConfig{
			BaseURL: cfg.Remote.URL,
			APIKey:  cfg.Remote.APIKey,
			Timeout: cfg.Remote.Timeout,
		})
	}

	if cfg.Storage.Backend != db.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			a.close()
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
		}
	}
	kv, err := db.OpenKV(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		a.close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open storage", err)
	}
	a.kv = kv

	a.store = store.New(kv)
	a.queue = queue.NewSyncQueue(kv, cfg.Sync.MaxAttempts)
	a.buffer = offline.NewBuffer(kv, a.store, a.remote, cfg.Sync.MaxAttempts)
	a.engine = syncpkg.NewSyncEngine(a.store, a.queue, a.buffer, a.remote, kv)

	// The prober owns reachability; the scheduler reacts to its edges.
	a.monitor = connectivity.NewMonitor(connectivity.State{Connected: true})
	a.engine.SetMonitor(a.monitor)

	var checker connectivity.Checker = a.remote
	if cfg.Sync.ProbeURL != "" {
		checker = connectivity.HTTPChecker{
			URL:    cfg.Sync.ProbeURL,
			Client: &http.Client{Timeout: cfg.Remote.Timeout},
		}
	}
	a.prober = connectivity.NewProber(a.monitor, checker, cfg.Sync.ProbeInterval)
	a.downloader = download.NewDownloader(a.remote, a.store, a.buffer)
	a.downloader.SetResolver(conflict.NewResolver(conflict.ResolutionStrategy(cfg.Sync.ConflictStrategy)))
	return a, nil
}

// user returns the account the bulk download runs for.
func (a *app) user() download.User {
	return download.User{ID: a.cfg.User.ID, IsAdmin: a.cfg.User.IsAdmin}
}

// applyConfig pushes hot-reloadable settings into running components.
func (a *app) applyConfig(cfg *config.Config) {
	a.queue.SetMaxAttempts(cfg.Sync.MaxAttempts)
	a.buffer.SetMaxAttempts(cfg.Sync.MaxAttempts)
	a.downloader.SetResolver(conflict.NewResolver(conflict.ResolutionStrategy(cfg.Sync.ConflictStrategy)))
	logging.Component("cli").Info("configuration reloaded", map[string]interface{}{
		"max_attempts":      cfg.Sync.MaxAttempts,
		"conflict_strategy": cfg.Sync.ConflictStrategy,
	})
}

func (a *app) close() {
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			logging.Component("cli").Warn("failed to close storage", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
