package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Reserved local fields stamped on every cached record.
const (
	FieldID        = "id"
	FieldSynced    = "synced"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldPending   = "_pending"
	FieldSyncError = "_sync_error"
)

// Record is a flat mapping of field name to scalar value.
type Record map[string]any

// ID returns the record id as a string.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns a field formatted as a string, or "" when absent.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

// Int returns a numeric field as int64. Values decoded from JSON or msgpack
// arrive with different concrete types, all of which are accepted.
func (r Record) Int(field string) int64 {
	switch v := r[field].(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Bool interprets 0/1, booleans and "true"/"false" strings.
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return r.Int(field) != 0
}

// Synced reports whether the record is confirmed against the remote store.
func (r Record) Synced() bool {
	return r.Int(FieldSynced) == 1
}

// Pending reports whether the record holds a tentative, unconfirmed write.
func (r Record) Pending() bool {
	return r.Int(FieldPending) == 1
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every field of patch into a clone of r.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Flatten drops nested objects and arrays. Local storage is flat per table;
// relations are cross-referenced by id at read time.
func (r Record) Flatten() Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch v.(type) {
		case map[string]any, Record, []any, []map[string]any, []Record:
			continue
		}
		out[k] = v
	}
	return out
}

// Remote returns a copy without local-only bookkeeping fields.
func (r Record) Remote() Record {
	out := r.Clone()
	delete(out, FieldSynced)
	delete(out, FieldPending)
	delete(out, FieldSyncError)
	return out
}

// Touch stamps updated_at, and created_at when missing.
func (r Record) Touch(now time.Time) {
	ts := now.UTC().Format(time.RFC3339Nano)
	if _, ok := r[FieldCreatedAt]; !ok {
		r[FieldCreatedAt] = ts
	}
	r[FieldUpdatedAt] = ts
}

// Nested extracts the nested records stored under field, in either of the
// shapes a JSON decoder produces.
func (r Record) Nested(field string) []Record {
	switch v := r[field].(type) {
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Record(m))
			}
		}
		return out
	case []map[string]any:
		out := make([]Record, 0, len(v))
		for _, m := range v {
			out = append(out, Record(m))
		}
		return out
	case []Record:
		return v
	case map[string]any:
		return []Record{Record(v)}
	}
	return nil
}
