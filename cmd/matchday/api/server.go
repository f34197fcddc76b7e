// Package api is the local control API: the bridge a UI process uses to read
// cached records, submit writes, drive sync and receive sync events.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kimhsiao/matchday/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/store"
	syncpkg "github.com/kimhsiao/matchday/backend/internal/sync"
	"github.com/kimhsiao/matchday/backend/internal/sync/download"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
	"github.com/kimhsiao/matchday/backend/internal/sync/scheduler"
)

// Deps are the components the API drives. Scheduler is optional; without it
// manual syncs call the engine directly.
type Deps struct {
	Engine     *syncpkg.SyncEngine
	Store      *store.Store
	Queue      *queue.SyncQueue
	Buffer     *offline.Buffer
	Downloader *download.Downloader
	Monitor    *connectivity.Monitor
	Scheduler  *scheduler.Scheduler
	User       download.User
}

// Server serves the control API.
type Server struct {
	deps   Deps
	hub    *Hub
	router *gin.Engine
	log    *logging.Logger
}

// NewServer builds the router and subscribes the WebSocket hub to engine
// events.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		hub:  NewHub(),
		log:  logging.Component("api"),
	}
	deps.Engine.SetEventHandler(s.hub)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.routes(r)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops the hub.
func (s *Server) Close() {
	s.hub.Close()
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control API listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "matchday"})
		})

		api.GET("/tables/:table", s.listRecords)
		api.GET("/tables/:table/:id", s.getRecord)
		api.POST("/tables/:table", s.saveRecord)
		api.DELETE("/tables/:table/:id", s.deleteRecord)

		api.GET("/matches/:id/live", s.liveMatch)
		api.POST("/matches/:id/events", s.recordEvent)
		api.PUT("/matches/:id/state", s.updateState)

		api.GET("/sync/status", s.syncStatus)
		api.POST("/sync", s.syncNow)
		api.POST("/sync/download", s.download)

		api.GET("/queue", s.listQueue)
		api.POST("/queue/retry", s.retryQueue)

		api.POST("/connectivity", s.setConnectivity)
		api.POST("/logout", s.logout)
	}
}

// statusFor maps an application error onto an HTTP status.
func statusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrInvalid, apperrors.ErrUnknownTable:
		return http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrQueueItemNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrSyncOffline:
		return http.StatusServiceUnavailable
	case apperrors.ErrRemote, apperrors.ErrRemoteRejected, apperrors.ErrSyncFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": string(apperrors.Code(err))})
}

func tableParam(c *gin.Context) (models.TableKind, bool) {
	table, err := models.ParseTable(c.Param("table"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return table, true
}

// =====================================================
// Records
// =====================================================

// listRecords handles GET /api/tables/:table[?field=&value=].
func (s *Server) listRecords(c *gin.Context) {
	table, ok := tableParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var records []models.Record
	if field := c.Query("field"); field != "" {
		records = s.deps.Store.Find(ctx, table, field, c.Query("value"))
	} else {
		records = s.deps.Store.GetAll(ctx, table)
	}
	if records == nil {
		records = []models.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "records": records, "count": len(records)})
}

// getRecord handles GET /api/tables/:table/:id.
func (s *Server) getRecord(c *gin.Context) {
	table, ok := tableParam(c)
	if !ok {
		return
	}
	rec := s.deps.Store.GetByID(c.Request.Context(), table, c.Param("id"))
	if rec == nil {
		writeError(c, apperrors.New(apperrors.ErrNotFound, "record not found"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

type saveRequest struct {
	Operation string        `json:"operation"`
	Record    models.Record `json:"record"`
}

// saveRecord handles POST /api/tables/:table. The operation defaults to
// INSERT.
func (s *Server) saveRecord(c *gin.Context) {
	table, ok := tableParam(c)
	if !ok {
		return
	}
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Operation == "" {
		req.Operation = string(models.OperationInsert)
	}
	op, err := models.ParseOperation(req.Operation)
	if err != nil {
		writeError(c, err)
		return
	}
	if op == models.OperationDelete {
		writeError(c, apperrors.New(apperrors.ErrInvalid, "use DELETE /api/tables/:table/:id"))
		return
	}
	if req.Record == nil {
		writeError(c, apperrors.New(apperrors.ErrInvalid, "record is required"))
		return
	}

	res, err := s.deps.Engine.SaveData(c.Request.Context(), table, req.Record, op)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if op == models.OperationInsert {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// deleteRecord handles DELETE /api/tables/:table/:id.
func (s *Server) deleteRecord(c *gin.Context) {
	table, ok := tableParam(c)
	if !ok {
		return
	}
	res, err := s.deps.Engine.SaveData(c.Request.Context(), table,
		models.Record{models.FieldID: c.Param("id")}, models.OperationDelete)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// =====================================================
// Live match
// =====================================================

// liveMatch handles GET /api/matches/:id/live: the snapshot used to restore
// the scoring screen and the events still waiting for replay.
func (s *Server) liveMatch(c *gin.Context) {
	ctx := c.Request.Context()
	id := s.deps.Engine.ResolveID(ctx, c.Param("id"))

	match := s.deps.Store.GetByID(ctx, models.TableMatches, id)
	if match == nil && s.deps.Buffer != nil {
		match = s.deps.Buffer.GetCachedMatch(ctx, id)
	}
	if match == nil {
		writeError(c, apperrors.New(apperrors.ErrNotFound, "match not found"))
		return
	}
	pending := []models.OfflineMatchEvent{}
	if s.deps.Buffer != nil {
		pending = append(pending, s.deps.Buffer.PendingEvents(ctx, id)...)
	}
	c.JSON(http.StatusOK, gin.H{"match": match, "pending_events": pending})
}

// recordEvent handles POST /api/matches/:id/events.
func (s *Server) recordEvent(c *gin.Context) {
	var ev models.OfflineMatchEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid event body", err))
		return
	}
	ev.MatchID = c.Param("id")
	saved, err := s.deps.Engine.RecordMatchEvent(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// updateState handles PUT /api/matches/:id/state with a partial match record.
func (s *Server) updateState(c *gin.Context) {
	var patch models.Record
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid state body", err))
		return
	}
	upd, err := s.deps.Engine.UpdateMatchState(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, upd)
}

// =====================================================
// Sync
// =====================================================

type statusResponse struct {
	Status    syncpkg.SyncStatus         `json:"status"`
	Online    bool                       `json:"online"`
	LastSync  *time.Time                 `json:"last_sync,omitempty"`
	LastError string                     `json:"last_error,omitempty"`
	Pending   int                        `json:"pending"`
	Queue     queue.Stats                `json:"queue"`
	Scheduler *scheduler.SchedulerStatus `json:"scheduler,omitempty"`
}

// syncStatus handles GET /api/sync/status.
func (s *Server) syncStatus(c *gin.Context) {
	e := s.deps.Engine
	resp := statusResponse{
		Status:   e.Status(),
		Online:   e.IsOnline(),
		LastSync: e.LastSync(),
		Pending:  e.PendingChanges(),
	}
	if err := e.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if stats, err := s.deps.Queue.GetStats(c.Request.Context()); err == nil {
		resp.Queue = stats
	}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.GetStatus()
		resp.Scheduler = &st
	}
	c.JSON(http.StatusOK, resp)
}

// syncNow handles POST /api/sync.
func (s *Server) syncNow(c *gin.Context) {
	ctx := c.Request.Context()
	if s.deps.Scheduler != nil {
		report, err := s.deps.Scheduler.SyncNow(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	report := s.deps.Engine.SyncAll(ctx)
	if err := syncpkg.ReportError(s.deps.Engine, report); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// download handles POST /api/sync/download. The body may name another user;
// otherwise the configured user is used.
func (s *Server) download(c *gin.Context) {
	if s.deps.Downloader == nil {
		writeError(c, apperrors.New(apperrors.ErrInternal, "downloader not configured"))
		return
	}
	user := s.deps.User
	if c.Request.ContentLength > 0 {
		var body download.User
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid user body", err))
			return
		}
		if body.ID != "" {
			user = body
		}
	}
	sum, err := s.deps.Downloader.DownloadAllUserData(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// =====================================================
// Queue
// =====================================================

// listQueue handles GET /api/queue.
func (s *Server) listQueue(c *gin.Context) {
	items, err := s.deps.Queue.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []models.QueuedOperation{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// retryQueue handles POST /api/queue/retry: revives dead-lettered operations
// and drains them.
func (s *Server) retryQueue(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := s.deps.Engine.RetryDeadLetters(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"revived": n}
	if n > 0 {
		resp["drain"] = s.deps.Engine.SyncPendingOperations(ctx)
	}
	c.JSON(http.StatusOK, resp)
}

// =====================================================
// Connectivity and session
// =====================================================

// setConnectivity handles POST /api/connectivity: the host platform's
// reachability signal.
func (s *Server) setConnectivity(c *gin.Context) {
	if s.deps.Monitor == nil {
		writeError(c, apperrors.New(apperrors.ErrInternal, "connectivity monitor not configured"))
		return
	}
	var st connectivity.State
	if err := c.ShouldBindJSON(&st); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "invalid connectivity body", err))
		return
	}
	s.deps.Monitor.Update(st)
	c.JSON(http.StatusOK, gin.H{"online": s.deps.Monitor.IsOnline()})
}

// logout handles POST /api/logout.
func (s *Server) logout(c *gin.Context) {
	if err := s.deps.Engine.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
