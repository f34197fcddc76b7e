// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libmatchday.so (Android) / matchday.framework (iOS).
//
// The host pushes the platform connectivity signal through SetConnectivity;
// the engine drains everything pending on each offline to online edge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/kimhsiao/matchday/backend/internal/connectivity"
	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	syncpkg "github.com/kimhsiao/matchday/backend/internal/sync"
	"github.com/kimhsiao/matchday/backend/internal/sync/download"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
)

// bridge is the sync core owned by the host process.
type bridge struct {
	mu         sync.Mutex
	kv         db.KV
	store      *store.Store
	engine     *syncpkg.SyncEngine
	monitor    *connectivity.Monitor
	downloader *download.Downloader
	unbind     func()
	cancel     context.CancelFunc
	logCloser  io.Closer
}

var (
	core    = &bridge{}
	lastErr string
	lastMu  sync.RWMutex
)

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func getLastError() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return lastErr
}

// init opens the SQLite store in dataDir and connects to the hosted backend.
func (b *bridge) init(dataDir, remoteURL, apiKey string) error {
	if remoteURL == "" {
		return apperrors.New(apperrors.ErrConfigInvalid, "remote url is required")
	}
	closer, err := logging.Configure(logging.Options{
		Level:      logging.LevelInfo,
		File:       filepath.Join(dataDir, "matchday.log"),
		MaxSizeMB:  5,
		MaxBackups: 2,
		MaxAgeDays: 14,
	})
	if err != nil {
		return err
	}
	kv, err := db.OpenKV(db.BackendSQLite, dataDir)
	if err != nil {
		_ = closer.Close()
		return apperrors.Wrap(apperrors.ErrStorage, "failed to open storage", err)
	}
	rs := remote.NewHTTPStore(remote.HTTPConfig{BaseURL: remoteURL, APIKey: apiKey})
	if err := b.open(kv, rs); err != nil {
		_ = kv.Close()
		_ = closer.Close()
		return err
	}
	b.mu.Lock()
	b.logCloser = closer
	b.mu.Unlock()
	return nil
}

// open wires the engine on kv and rs. A second call fails until close.
func (b *bridge) open(kv db.KV, rs remote.Store) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine != nil {
		return apperrors.New(apperrors.ErrInvalid, "core already initialized")
	}

	st := store.New(kv)
	q := queue.NewSyncQueue(kv, queue.DefaultMaxAttempts)
	buf := offline.NewBuffer(kv, st, rs, queue.DefaultMaxAttempts)
	engine := syncpkg.NewSyncEngine(st, q, buf, rs, kv)

	// Unknown reachability until the host reports otherwise.
	monitor := connectivity.NewMonitor(connectivity.State{Connected: true})
	ctx, cancel := context.WithCancel(context.Background())

	b.kv = kv
	b.store = st
	b.engine = engine
	b.monitor = monitor
	b.downloader = download.NewDownloader(rs, st, buf)
	b.unbind = engine.BindConnectivity(ctx, monitor)
	b.cancel = cancel
	return nil
}

func (b *bridge) ready() (*syncpkg.SyncEngine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil, apperrors.New(apperrors.ErrInternal, "core not initialized")
	}
	return b.engine, nil
}

func (b *bridge) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil
	}
	b.unbind()
	b.cancel()
	err := b.kv.Close()
	if b.logCloser != nil {
		_ = b.logCloser.Close()
	}
	b.kv, b.store, b.engine, b.monitor, b.downloader = nil, nil, nil, nil, nil
	b.unbind, b.cancel, b.logCloser = nil, nil, nil
	return err
}

// setConnectivity forwards the platform signal. reachable < 0 means the
// platform cannot tell.
func (b *bridge) setConnectivity(connected bool, reachable int) (bool, error) {
	b.mu.Lock()
	monitor := b.monitor
	b.mu.Unlock()
	if monitor == nil {
		return false, apperrors.New(apperrors.ErrInternal, "core not initialized")
	}
	st := connectivity.State{Connected: connected}
	if reachable >= 0 {
		st.Reachable = connectivity.Bool(reachable > 0)
	}
	monitor.Update(st)
	return monitor.IsOnline(), nil
}

// saveData handles a generic write. recordJSON is a flat JSON object.
func (b *bridge) saveData(table, operation, recordJSON string) ([]byte, error) {
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	kind, err := models.ParseTable(table)
	if err != nil {
		return nil, err
	}
	op, err := models.ParseOperation(operation)
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid record JSON", err)
	}
	res, err := engine.SaveData(context.Background(), kind, rec, op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// getAll returns every local record of table.
func (b *bridge) getAll(table string) ([]byte, error) {
	if _, err := b.ready(); err != nil {
		return nil, err
	}
	kind, err := models.ParseTable(table)
	if err != nil {
		return nil, err
	}
	records := b.store.GetAll(context.Background(), kind)
	if records == nil {
		records = []models.Record{}
	}
	return json.Marshal(records)
}

// recordEvent registers a live-match event given in the buffer's JSON shape.
func (b *bridge) recordEvent(eventJSON string) ([]byte, error) {
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	var ev models.OfflineMatchEvent
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid event JSON", err)
	}
	saved, err := engine.RecordMatchEvent(context.Background(), ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(saved)
}

// updateMatchState records a clock/state patch for matchID.
func (b *bridge) updateMatchState(matchID, patchJSON string) ([]byte, error) {
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	var patch models.Record
	if err := json.Unmarshal([]byte(patchJSON), &patch); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid patch JSON", err)
	}
	upd, err := engine.UpdateMatchState(context.Background(), matchID, patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(upd)
}

// syncAll drains everything pending.
func (b *bridge) syncAll() ([]byte, error) {
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	report := engine.SyncAll(context.Background())
	if err := syncpkg.ReportError(engine, report); err != nil {
		return nil, err
	}
	return json.Marshal(report)
}

// download seeds the local store for userID.
func (b *bridge) download(userID string, admin bool) ([]byte, error) {
	if _, err := b.ready(); err != nil {
		return nil, err
	}
	sum, err := b.downloader.DownloadAllUserData(context.Background(), download.User{ID: userID, IsAdmin: admin})
	if err != nil {
		return nil, err
	}
	return json.Marshal(sum)
}

// pendingCount returns the number of writes not yet confirmed, or -1 before
// init.
func (b *bridge) pendingCount() int {
	engine, err := b.ready()
	if err != nil {
		return -1
	}
	return engine.PendingChanges()
}

// logout erases all local state.
func (b *bridge) logout() error {
	engine, err := b.ready()
	if err != nil {
		return err
	}
	return engine.Logout(context.Background())
}

// errorMessage renders err for GetLastError, keeping the error code.
func errorMessage(err error) string {
	return fmt.Sprintf("%s: %v", apperrors.Code(err), err)
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
