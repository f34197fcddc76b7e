// Package scheduler provides background sync scheduling for offline operations.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/connectivity"
	"github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	syncpkg "github.com/kimhsiao/matchday/backend/internal/sync"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
)

// syncTimeout bounds one scheduled drain.
const syncTimeout = 5 * time.Minute

// Scheduler manages background sync operations.
type Scheduler struct {
	engine          syncpkg.SyncEngineInterface
	queue           *queue.SyncQueue
	syncInterval    time.Duration
	queueInterval   time.Duration
	log             *logging.Logger
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	lastSyncTime    time.Time
	syncInProgress  bool
	queueInProgress bool
	runCtx          context.Context
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval  time.Duration // Full drain of queue and live-match buffer while online (default: 5 minutes)
	QueueInterval time.Duration // Retry of the operation queue while online (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  5 * time.Minute,
		QueueInterval: 1 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, queue *queue.SyncQueue, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	defaults := DefaultSchedulerConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.QueueInterval <= 0 {
		config.QueueInterval = defaults.QueueInterval
	}

	return &Scheduler{
		engine:        engine,
		queue:         queue,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		log:           logging.Component("scheduler"),
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online initially
		runCtx:        context.Background(),
	}
}

// Start starts the background sync scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx = ctx
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.queueProcessorLoop(ctx)

	s.log.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"queue_interval": s.queueInterval.String(),
	})
}

// Stop stops the background sync scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.log.Info("Background sync scheduler stopped")
}

// SetOnlineStatus changes the online status of the scheduler. The offline to
// online edge triggers an immediate sync when the scheduler is running.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	ctx := s.runCtx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	s.log.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && running {
		s.TriggerSync(ctx)
	}
}

// Follow keeps the scheduler's online status in step with m. The returned
// func stops following.
func (s *Scheduler) Follow(m *connectivity.Monitor) func() {
	s.SetOnlineStatus(m.IsOnline())
	return m.Subscribe(s.SetOnlineStatus)
}

// periodicSyncLoop runs periodic sync when online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}

			s.mu.RLock()
			isSyncing := s.syncInProgress
			s.mu.RUnlock()

			if isSyncing {
				s.log.Debug("Sync already in progress, skipping")
				continue
			}

			go s.runSync(ctx)
		}
	}
}

// queueProcessorLoop retries the operation queue between full syncs.
func (s *Scheduler) queueProcessorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			go s.processQueue(ctx)
		}
	}
}

// claimSync marks a sync as in progress. It reports false when one already is.
func (s *Scheduler) claimSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) releaseSync(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncInProgress = false
	if ok {
		s.lastSyncTime = time.Now()
	}
}

// runSync executes a full sync operation.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		s.log.Debug("Skipping sync - scheduler is offline")
		return
	}
	if !s.claimSync() {
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	report, err := s.sync(syncCtx)
	s.releaseSync(err == nil)
	if err != nil {
		s.log.ErrorWithCode("Periodic sync failed", string(errors.Code(err)), err,
			map[string]interface{}{"interval": s.syncInterval.String()})
		return
	}

	s.log.Info("Periodic sync completed", map[string]interface{}{
		"synced":         report.Queue.Synced,
		"errors":         report.Queue.Errors,
		"dead_lettered":  report.Queue.DeadLettered,
		"events_synced":  report.Offline.EventsSync.Success,
		"updates_synced": report.Offline.MatchUpdatesSync.Success,
	})
}

// sync runs SyncAll and converts its outcome flags into errors.
func (s *Scheduler) sync(ctx context.Context) (syncpkg.SyncReport, error) {
	report := s.engine.SyncAll(ctx)
	return report, syncpkg.ReportError(s.engine, report)
}

// processQueue retries pending items in the operation queue.
func (s *Scheduler) processQueue(ctx context.Context) {
	if !s.IsOnline() || s.queue.Size(ctx) == 0 {
		return
	}

	s.mu.Lock()
	if s.queueInProgress || s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.queueInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.queueInProgress = false
		s.mu.Unlock()
	}()

	res := s.engine.SyncPendingOperations(ctx)
	if res.InProgress || res.Offline {
		return
	}
	s.log.Info("Queue processing completed", map[string]interface{}{
		"synced": res.Synced,
		"errors": res.Errors,
	})
}

// TriggerSync triggers an immediate sync operation.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	isSyncing := s.syncInProgress
	s.mu.RUnlock()

	if isSyncing {
		return false
	}

	go s.runSync(ctx)
	return true
}

// SchedulerStatus is a snapshot of the scheduler and the engine it drives.
type SchedulerStatus struct {
	IsRunning       bool               `json:"is_running"`
	IsOnline        bool               `json:"is_online"`
	LastSyncTime    *time.Time         `json:"last_sync_time,omitempty"`
	SyncInProgress  bool               `json:"sync_in_progress"`
	QueueInProgress bool               `json:"queue_in_progress"`
	EngineStatus    syncpkg.SyncStatus `json:"engine_status"`
	PendingItems    int                `json:"pending_items"`
	QueueStats      queue.Stats        `json:"queue_stats"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		SyncInProgress:  s.syncInProgress,
		QueueInProgress: s.queueInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		last := s.lastSyncTime
		status.LastSyncTime = &last
	}
	s.mu.RUnlock()

	status.EngineStatus = s.engine.Status()
	status.PendingItems = s.engine.PendingChanges()
	if stats, err := s.queue.GetStats(context.Background()); err == nil {
		status.QueueStats = stats
	}
	return status
}

// SyncNow triggers an immediate sync and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) (syncpkg.SyncReport, error) {
	if !s.claimSync() {
		return syncpkg.SyncReport{}, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	report, err := s.sync(syncCtx)
	s.releaseSync(err == nil)
	if err != nil {
		return report, err
	}

	s.log.Info("Manual sync completed", map[string]interface{}{
		"synced": report.Queue.Synced,
		"errors": report.Queue.Errors,
	})
	return report, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
