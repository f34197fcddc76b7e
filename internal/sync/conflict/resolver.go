// Package conflict decides which copy of a record survives when a remote row
// arrives for an id the local store already holds.
package conflict

import (
	"time"

	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	// ResolutionStrategyPendingWins keeps every local write that has not been
	// confirmed yet. Its queued operation will overwrite the remote row.
	ResolutionStrategyPendingWins ResolutionStrategy = "pending_wins"
	// ResolutionStrategyLastWriteWins keeps an unconfirmed local write only
	// when it is at least as recent as the remote row.
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
)

// Winner names the side that survives.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Resolver handles conflict resolution during download.
type Resolver struct {
	strategy ResolutionStrategy
	log      *logging.Logger
}

// NewResolver creates a new Resolver with the specified strategy. An unknown
// strategy behaves like ResolutionStrategyPendingWins.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{
		strategy: strategy,
		log:      logging.Component("conflict"),
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// Conflict is a remote row meeting an existing local record.
type Conflict struct {
	Table  models.TableKind
	Local  models.Record
	Remote models.Record
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Winner   Winner
	Strategy ResolutionStrategy
	// Reason is a short machine-readable explanation for logs and tests.
	Reason string
}

// Resolve picks the surviving copy. Confirmed local records always yield to
// the remote row.
func (r *Resolver) Resolve(c Conflict) Resolution {
	res := Resolution{Winner: WinnerRemote, Strategy: r.strategy}
	switch {
	case c.Local == nil:
		res.Reason = "no_local_copy"
		return res
	case !c.Local.Pending():
		res.Reason = "local_confirmed"
		return res
	}

	if r.strategy == ResolutionStrategyLastWriteWins {
		local, lok := updatedAt(c.Local)
		remote, rok := updatedAt(c.Remote)
		if lok && rok && remote.After(local) {
			res.Reason = "remote_newer"
			r.log.Warn("unconfirmed local write superseded by newer remote row", map[string]interface{}{
				"table":            string(c.Table),
				"id":               c.Local.ID(),
				"local_timestamp":  local.Format(time.RFC3339Nano),
				"remote_timestamp": remote.Format(time.RFC3339Nano),
			})
			return res
		}
	}

	res.Winner = WinnerLocal
	res.Reason = "local_pending"
	r.log.Debug("keeping unconfirmed local write", map[string]interface{}{
		"table":    string(c.Table),
		"id":       c.Local.ID(),
		"strategy": string(r.strategy),
	})
	return res
}

func updatedAt(rec models.Record) (time.Time, bool) {
	s := rec.String(models.FieldUpdatedAt)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
