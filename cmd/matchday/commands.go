package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/matchday/backend/cmd/matchday/api"
	"github.com/kimhsiao/matchday/backend/internal/config"
	"github.com/kimhsiao/matchday/backend/internal/crypto"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	syncpkg "github.com/kimhsiao/matchday/backend/internal/sync"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
	"github.com/kimhsiao/matchday/backend/internal/sync/scheduler"
)

// =====================================================
// serve
// =====================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API with background sync",
		Long: `Start the local control API and WebSocket event stream, probe the
backend for reachability and drain pending data whenever it comes back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				log := logging.Component("cli")

				sched := scheduler.NewScheduler(a.engine, a.queue, &scheduler.SchedulerConfig{
					SyncInterval: a.cfg.Sync.Interval,
				})
				unfollow := sched.Follow(a.monitor)
				defer unfollow()

				go a.prober.Run(ctx)
				sched.Start(ctx)
				defer sched.Stop()

				if a.viper.ConfigFileUsed() != "" {
					config.Watch(a.viper, a.applyConfig, func(err error) {
						log.Warn("ignoring invalid config change", map[string]interface{}{"error": err.Error()})
					})
				}

				srv := api.NewServer(api.Deps{
					Engine:     a.engine,
					Store:      a.store,
					Queue:      a.queue,
					Buffer:     a.buffer,
					Downloader: a.downloader,
					Monitor:    a.monitor,
					Scheduler:  sched,
					User:       a.user(),
				})
				defer srv.Close()

				log.Info("matchday serving", map[string]interface{}{
					"version": Version,
					"addr":    a.cfg.API.Addr,
					"backend": a.cfg.Storage.Backend,
					"demo":    opts.demo,
				})
				return srv.Run(ctx, a.cfg.API.Addr)
			})
		},
	}
}

// =====================================================
// sync
// =====================================================

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay pending operations and live-match data once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				a.prober.Probe(ctx)
				report := a.engine.SyncAll(ctx)
				syncErr := syncpkg.ReportError(a.engine, report)

				if opts.json {
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
					return syncErr
				}

				p := newPrinter(cmd.OutOrStdout())
				p.heading("Sync")
				p.field("queue synced", p.count(report.Queue.Synced, false))
				p.field("queue errors", p.count(report.Queue.Errors, true))
				p.field("dead lettered", p.count(report.Queue.DeadLettered, true))
				p.field("events synced", p.count(report.Offline.EventsSync.Success, false))
				p.field("events failed", p.count(report.Offline.EventsSync.Failed, true))
				p.field("updates synced", p.count(report.Offline.MatchUpdatesSync.Success, false))
				p.field("updates failed", p.count(report.Offline.MatchUpdatesSync.Failed, true))
				if syncErr != nil {
					p.failure(syncErr.Error())
					return syncErr
				}
				p.ok(fmt.Sprintf("%d pending change(s) left", a.engine.PendingChanges()))
				return nil
			})
		},
	}
}

// =====================================================
// download
// =====================================================

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		admin  bool
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Cache every tournament the user follows or administers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				user := a.user()
				if userID != "" {
					user.ID = userID
				}
				if cmd.Flags().Changed("admin") {
					user.IsAdmin = admin
				}

				sum, err := a.downloader.DownloadAllUserData(cmd.Context(), user)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), sum)
				}

				p := newPrinter(cmd.OutOrStdout())
				p.heading("Download for " + user.ID)
				p.tableCounts(sum.Counts)
				p.field("live matches cached", p.count(sum.CachedMatches, false))
				if sum.Skipped > 0 {
					p.warning(fmt.Sprintf("%d record(s) kept: local changes not yet synced", sum.Skipped))
				}
				if sum.Failures > 0 {
					p.warning(fmt.Sprintf("%d request(s) failed, see log", sum.Failures))
				}
				p.ok(fmt.Sprintf("%d record(s) stored", sum.Total()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (default user.id from config)")
	cmd.Flags().BoolVar(&admin, "admin", false, "also download tournaments the user administers")
	return cmd
}

// =====================================================
// pending
// =====================================================

type pendingReport struct {
	Queue        queue.Stats `json:"queue"`
	Events       int         `json:"events"`
	MatchUpdates int         `json:"match_updates"`
	DeadLetters  int         `json:"dead_letters"`
	Total        int         `json:"total"`
}

func newPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show data waiting to reach the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				stats, err := a.queue.GetStats(ctx)
				if err != nil {
					return apperrors.Wrap(apperrors.ErrStorage, "failed to read queue", err)
				}
				rep := pendingReport{
					Queue:        stats,
					Events:       len(a.buffer.PendingEvents(ctx, "")),
					MatchUpdates: len(a.buffer.PendingMatchUpdates(ctx)),
					DeadLetters:  len(a.buffer.DeadLetters(ctx)),
					Total:        a.engine.PendingChanges(),
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), rep)
				}

				p := newPrinter(cmd.OutOrStdout())
				p.heading("Pending")
				p.field("queued operations", p.count(stats.Pending, false))
				p.field("dead operations", p.count(stats.Dead, true))
				p.field("match events", p.count(rep.Events, false))
				p.field("match updates", p.count(rep.MatchUpdates, false))
				p.field("dropped live items", p.count(rep.DeadLetters, true))
				if rep.Total == 0 {
					p.ok("everything is synced")
				}
				return nil
			})
		},
	}
}

// =====================================================
// queue
// =====================================================

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and retry the operation queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				items, err := a.queue.List(cmd.Context())
				if err != nil {
					return apperrors.Wrap(apperrors.ErrStorage, "failed to read queue", err)
				}
				if opts.json {
					if items == nil {
						items = []models.QueuedOperation{}
					}
					return writeJSON(cmd.OutOrStdout(), items)
				}
				p := newPrinter(cmd.OutOrStdout())
				p.heading(fmt.Sprintf("Queue (%d)", len(items)))
				if len(items) == 0 {
					p.ok("queue is empty")
				}
				for _, op := range items {
					p.queueRow(op)
				}
				return nil
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Return dead operations to the replay set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				n, err := a.engine.RetryDeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"revived": n})
				}
				p := newPrinter(cmd.OutOrStdout())
				if n == 0 {
					p.ok("no dead operations")
					return nil
				}
				p.ok(fmt.Sprintf("%d operation(s) revived; run `matchday sync` to replay them", n))
				return nil
			})
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}

// =====================================================
// event
// =====================================================

func newEventCmd(opts *rootOptions) *cobra.Command {
	var (
		team   string
		player string
		half   int
		minute int
		second int
	)
	cmd := &cobra.Command{
		Use:   "event <match-id> <type>",
		Short: "Record a live-match event",
		Long: `Record a live-match event such as GOL or TARJETA_AMARILLA. The local
match is updated at once; the event is sent now when the backend is reachable
and buffered for the next sync otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				a.prober.Probe(ctx)
				ev, err := a.engine.RecordMatchEvent(ctx, models.OfflineMatchEvent{
					MatchID:   args[0],
					EventType: models.EventType(args[1]),
					Team:      models.Side(team),
					Player:    player,
					Half:      half,
					Minute:    minute,
					Second:    second,
					CreatedAt: time.Now(),
				})
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), ev)
				}
				p := newPrinter(cmd.OutOrStdout())
				if a.monitor.IsOnline() && a.engine.PendingChanges() == 0 {
					p.ok(fmt.Sprintf("%s recorded and sent", ev.EventType))
				} else {
					p.warning(fmt.Sprintf("%s recorded offline as %s", ev.EventType, ev.OfflineID))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", string(models.SideHome), "credited side: local or visitante")
	cmd.Flags().StringVar(&player, "player", "", "player id")
	cmd.Flags().IntVar(&half, "half", 1, "half (1 or 2)")
	cmd.Flags().IntVar(&minute, "minute", 0, "match minute")
	cmd.Flags().IntVar(&second, "second", 0, "second within the minute")
	return cmd
}

// =====================================================
// logout, config, version
// =====================================================

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Erase every local record, queued operation and buffered event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.engine.Logout(cmd.Context()); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).ok("local data cleared")
				return nil
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seal <api-key>",
		Short: "Encrypt a value for remote.api_key on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sealed, err := crypto.Seal(args[0], crypto.MachineID())
			if err != nil {
				return apperrors.Wrap(apperrors.ErrInvalid, "failed to seal value", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "matchday version %s\n", Version)
		},
	}
}
