// Package store is the local record store: per-table record snapshots kept in
// the durable KV substrate. It is the read cache for every screen and the
// write-through target of the sync engine.
//
// Reads never fail: storage errors degrade to empty results and are logged.
// Writes report success as a boolean.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/db"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
)

// KeyPrefix prefixes every table snapshot key.
const KeyPrefix = "table:"

// Key returns the KV key holding the snapshot of table.
func Key(table models.TableKind) string {
	return KeyPrefix + string(table)
}

// Store is the local record store.
type Store struct {
	kv  db.KV
	log *logging.Logger
	now func() time.Time

	// mu serializes read-modify-write cycles over a table snapshot.
	mu sync.Mutex
}

// New creates a Store over kv.
func New(kv db.KV) *Store {
	return &Store{
		kv:  kv,
		log: logging.Component("store"),
		now: time.Now,
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) load(ctx context.Context, table models.TableKind) ([]models.Record, error) {
	var records []models.Record
	if _, err := db.LoadValue(ctx, s.kv, Key(table), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, table models.TableKind, records []models.Record) error {
	return db.StoreValue(ctx, s.kv, Key(table), records)
}

// GetAll returns every record of table in insertion order.
func (s *Store) GetAll(ctx context.Context, table models.TableKind) []models.Record {
	records, err := s.load(ctx, table)
	if err != nil {
		s.log.Error("failed to read table", err, map[string]interface{}{"table": table})
		return []models.Record{}
	}
	if records == nil {
		return []models.Record{}
	}
	return records
}

// GetByID returns the record with id, or nil.
func (s *Store) GetByID(ctx context.Context, table models.TableKind, id string) models.Record {
	for _, r := range s.GetAll(ctx, table) {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// Find returns the records whose field equals value when both are rendered as
// strings.
func (s *Store) Find(ctx context.Context, table models.TableKind, field, value string) []models.Record {
	var out []models.Record
	for _, r := range s.GetAll(ctx, table) {
		if r.String(field) == value {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of records in table.
func (s *Store) Count(ctx context.Context, table models.TableKind) int {
	return len(s.GetAll(ctx, table))
}

// Tables returns the tables that currently hold a snapshot.
func (s *Store) Tables(ctx context.Context) []models.TableKind {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		s.log.Error("failed to list tables", err)
		return nil
	}
	tables := make([]models.TableKind, 0, len(keys))
	for _, k := range keys {
		if t, err := models.ParseTable(strings.TrimPrefix(k, KeyPrefix)); err == nil {
			tables = append(tables, t)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })
	return tables
}

// mutate runs fn over the table snapshot under the store lock and persists the
// result when fn reports a change.
func (s *Store) mutate(ctx context.Context, table models.TableKind, op string,
	fn func([]models.Record) ([]models.Record, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx, table)
	if err != nil {
		s.log.Error("failed to read table", err, map[string]interface{}{"table": table, "op": op})
		return false
	}
	next, changed := fn(records)
	if !changed {
		return true
	}
	if err := s.save(ctx, table, next); err != nil {
		s.log.Error("failed to write table", err, map[string]interface{}{"table": table, "op": op})
		return false
	}
	return true
}

// Upsert replaces the record with the same id, or appends it. updated_at is
// always stamped; created_at is kept from the existing record or stamped on
// insert. A record without synced is stored with synced = 0.
func (s *Store) Upsert(ctx context.Context, table models.TableKind, record models.Record) bool {
	id := record.ID()
	if id == "" {
		s.log.Warn("refusing to store record without id", map[string]interface{}{"table": table})
		return false
	}

	rec := record.Clone()
	if _, ok := rec[models.FieldSynced]; !ok {
		rec[models.FieldSynced] = 0
	}

	return s.mutate(ctx, table, "upsert", func(records []models.Record) ([]models.Record, bool) {
		for i, existing := range records {
			if existing.ID() != id {
				continue
			}
			if created, ok := existing[models.FieldCreatedAt]; ok {
				if _, has := rec[models.FieldCreatedAt]; !has {
					rec[models.FieldCreatedAt] = created
				}
			}
			rec.Touch(s.now())
			records[i] = rec
			return records, true
		}
		rec.Touch(s.now())
		return append(records, rec), true
	})
}

// Update applies patch to the record with id. It reports false when the record
// does not exist.
func (s *Store) Update(ctx context.Context, table models.TableKind, id string, patch models.Record) bool {
	found := false
	ok := s.mutate(ctx, table, "update", func(records []models.Record) ([]models.Record, bool) {
		for i, existing := range records {
			if existing.ID() == id {
				found = true
				next := existing.Merge(patch)
				next[models.FieldID] = id
				next.Touch(s.now())
				records[i] = next
				return records, true
			}
		}
		return records, false
	})
	return ok && found
}

// Delete removes the record with id. Deleting an absent id succeeds.
func (s *Store) Delete(ctx context.Context, table models.TableKind, id string) bool {
	return s.mutate(ctx, table, "delete", func(records []models.Record) ([]models.Record, bool) {
		for i, existing := range records {
			if existing.ID() == id {
				return append(records[:i], records[i+1:]...), true
			}
		}
		return records, false
	})
}

// MarkSynced sets synced = 1 and clears the tentative markers without touching
// any other field.
func (s *Store) MarkSynced(ctx context.Context, table models.TableKind, id string) bool {
	return s.mutate(ctx, table, "mark_synced", func(records []models.Record) ([]models.Record, bool) {
		for _, existing := range records {
			if existing.ID() == id {
				existing[models.FieldSynced] = 1
				delete(existing, models.FieldPending)
				delete(existing, models.FieldSyncError)
				return records, true
			}
		}
		return records, false
	})
}

// ReplaceID re-keys a record, used when the remote store assigns the
// authoritative id to a record created with a temporary one. When a record
// with newID already exists the temporary copy is dropped.
func (s *Store) ReplaceID(ctx context.Context, table models.TableKind, oldID, newID string) bool {
	if oldID == newID {
		return true
	}
	return s.mutate(ctx, table, "replace_id", func(records []models.Record) ([]models.Record, bool) {
		oldIdx, newIdx := -1, -1
		for i, r := range records {
			switch r.ID() {
			case oldID:
				oldIdx = i
			case newID:
				newIdx = i
			}
		}
		if oldIdx < 0 {
			return records, false
		}
		if newIdx >= 0 {
			return append(records[:oldIdx], records[oldIdx+1:]...), true
		}
		records[oldIdx][models.FieldID] = newID
		return records, true
	})
}

// RewriteReferences re-points every non-id field equal to oldID, in every
// known table, to newID. It returns the number of records changed.
func (s *Store) RewriteReferences(ctx context.Context, oldID, newID string) int {
	total := 0
	for _, table := range models.AllTables {
		s.mutate(ctx, table, "rewrite_refs", func(records []models.Record) ([]models.Record, bool) {
			changed := false
			for _, r := range records {
				hit := false
				for k, v := range r {
					if k == models.FieldID {
						continue
					}
					if sv, ok := v.(string); ok && sv == oldID {
						r[k] = newID
						hit = true
					}
				}
				if hit {
					total++
					changed = true
				}
			}
			return records, changed
		})
	}
	return total
}

// ClearTable removes every record of table.
func (s *Store) ClearTable(ctx context.Context, table models.TableKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, Key(table)); err != nil {
		s.log.Error("failed to clear table", err, map[string]interface{}{"table": table})
		return false
	}
	return true
}

// ClearAll removes every table snapshot, including ones for tables this build
// no longer knows.
func (s *Store) ClearAll(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		s.log.Error("failed to list tables", err)
		return false
	}
	ok := true
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			s.log.Error(fmt.Sprintf("failed to clear %s", k), err)
			ok = false
		}
	}
	return ok
}
