// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
)

// =====================================================
// Record Accessor Tests
// =====================================================

// TestRecord_String verifies scalar rendering across decoded types.
func TestRecord_String(t *testing.T) {
	r := Record{
		"s":     "abc",
		"b":     []byte("xyz"),
		"whole": float64(42),
		"frac":  1.5,
		"int":   7,
		"nil":   nil,
	}

	tests := []struct {
		field string
		want  string
	}{
		{"s", "abc"},
		{"b", "xyz"},
		{"whole", "42"},
		{"frac", "1.5"},
		{"int", "7"},
		{"nil", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := r.String(tt.field); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

// TestRecord_Int verifies numeric coercion from JSON and msgpack shapes.
func TestRecord_Int(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
	}{
		{"int", 3, 3},
		{"int8", int8(3), 3},
		{"uint16", uint16(3), 3},
		{"float64", float64(3), 3},
		{"json number", json.Number("3"), 3},
		{"string", "3", 3},
		{"true", true, 1},
		{"false", false, 0},
		{"garbage", "x", 0},
		{"missing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{}
			if tt.value != nil {
				r["n"] = tt.value
			}
			if got := r.Int("n"); got != tt.want {
				t.Errorf("Int() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestRecord_Bool verifies 0/1, boolean and string forms.
func TestRecord_Bool(t *testing.T) {
	r := Record{"a": 1, "b": 0, "c": true, "d": "true", "e": "false"}
	want := map[string]bool{"a": true, "b": false, "c": true, "d": true, "e": false, "missing": false}
	for field, w := range want {
		if got := r.Bool(field); got != w {
			t.Errorf("Bool(%q) = %v, want %v", field, got, w)
		}
	}
}

// TestRecord_SyncFlags verifies the synced and pending markers.
func TestRecord_SyncFlags(t *testing.T) {
	r := Record{FieldSynced: 1}
	if !r.Synced() || r.Pending() {
		t.Errorf("Synced() = %v, Pending() = %v, want true, false", r.Synced(), r.Pending())
	}

	r = Record{FieldSynced: int8(0), FieldPending: uint8(1)}
	if r.Synced() || !r.Pending() {
		t.Errorf("Synced() = %v, Pending() = %v, want false, true", r.Synced(), r.Pending())
	}
}

// =====================================================
// Record Transform Tests
// =====================================================

// TestRecord_CloneAndMerge verifies copies do not alias the original.
func TestRecord_CloneAndMerge(t *testing.T) {
	orig := Record{FieldID: "pa-1", FieldHomeGoals: 0}

	clone := orig.Clone()
	clone[FieldHomeGoals] = 5
	if orig.Int(FieldHomeGoals) != 0 {
		t.Error("Clone() aliases the original")
	}

	merged := orig.Merge(Record{FieldHomeGoals: 2, FieldMatchState: MatchInProgress})
	if merged.Int(FieldHomeGoals) != 2 || merged.String(FieldMatchState) != MatchInProgress {
		t.Errorf("Merge() = %v", merged)
	}
	if _, ok := orig[FieldMatchState]; ok {
		t.Error("Merge() mutated the original")
	}
}

// TestRecord_Flatten verifies nested values are dropped.
func TestRecord_Flatten(t *testing.T) {
	r := Record{
		FieldID:   "to-1",
		"nombre":  "Liga",
		"equipos": []any{map[string]any{"id": "eq-1"}},
		"admin":   map[string]any{"id": "u-1"},
	}
	got := r.Flatten()
	if len(got) != 2 || got.ID() != "to-1" || got.String("nombre") != "Liga" {
		t.Errorf("Flatten() = %v, want id and nombre only", got)
	}
}

// TestRecord_Remote verifies local bookkeeping fields are stripped.
func TestRecord_Remote(t *testing.T) {
	r := Record{FieldID: "eq-1", FieldSynced: 0, FieldPending: 1, FieldSyncError: "boom", "nombre": "Tigres"}
	got := r.Remote()
	for _, f := range []string{FieldSynced, FieldPending, FieldSyncError} {
		if _, ok := got[f]; ok {
			t.Errorf("Remote() kept %q", f)
		}
	}
	if got.String("nombre") != "Tigres" {
		t.Errorf("Remote() dropped nombre")
	}
	if _, ok := r[FieldPending]; !ok {
		t.Error("Remote() mutated the original")
	}
}

// TestRecord_Touch verifies created_at is stamped once.
func TestRecord_Touch(t *testing.T) {
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	r := Record{}
	r.Touch(first)
	r.Touch(second)

	if got := r.String(FieldCreatedAt); got != first.Format(time.RFC3339Nano) {
		t.Errorf("created_at = %q, want %q", got, first.Format(time.RFC3339Nano))
	}
	if got := r.String(FieldUpdatedAt); got != second.Format(time.RFC3339Nano) {
		t.Errorf("updated_at = %q, want %q", got, second.Format(time.RFC3339Nano))
	}
}

// TestRecord_Nested verifies every decoded shape of nested rows.
func TestRecord_Nested(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"any slice", []any{map[string]any{"id": "a"}, "skip", map[string]any{"id": "b"}}, 2},
		{"map slice", []map[string]any{{"id": "a"}}, 1},
		{"record slice", []Record{{"id": "a"}, {"id": "b"}}, 2},
		{"single object", map[string]any{"id": "a"}, 1},
		{"scalar", "x", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(Record{"equipos": tt.value}.Nested("equipos")); got != tt.want {
				t.Errorf("len(Nested()) = %d, want %d", got, tt.want)
			}
		})
	}
}

// =====================================================
// Table Tests
// =====================================================

// TestParseTable verifies the closed table set.
func TestParseTable(t *testing.T) {
	for _, table := range AllTables {
		got, err := ParseTable(string(table))
		if err != nil || got != table {
			t.Errorf("ParseTable(%q) = %q, %v", table, got, err)
		}
		if table.RemoteName() == "" {
			t.Errorf("%q has no remote name", table)
		}
	}

	_, err := ParseTable("usuarios")
	if !apperrors.Is(err, apperrors.ErrUnknownTable) {
		t.Errorf("ParseTable(usuarios) error = %v, want %s", err, apperrors.ErrUnknownTable)
	}
	if TableKind("usuarios").Valid() {
		t.Error("Valid() = true for an unknown table")
	}
}

// TestGenericSync verifies match events bypass the operation queue.
func TestGenericSync(t *testing.T) {
	if TableMatchEvents.GenericSync() {
		t.Error("eventos_partido should not use the generic queue")
	}
	if !TableMatches.GenericSync() {
		t.Error("partidos should use the generic queue")
	}
}

// =====================================================
// Queue and Event Tests
// =====================================================

// TestParseOperation verifies accepted operation names.
func TestParseOperation(t *testing.T) {
	for _, name := range []string{"INSERT", "UPDATE", "DELETE"} {
		if op, err := ParseOperation(name); err != nil || string(op) != name {
			t.Errorf("ParseOperation(%q) = %q, %v", name, op, err)
		}
	}
	for _, name := range []string{"insert", "UPSERT", ""} {
		if _, err := ParseOperation(name); !apperrors.Is(err, apperrors.ErrInvalid) {
			t.Errorf("ParseOperation(%q) error = %v, want %s", name, err, apperrors.ErrInvalid)
		}
	}
}

// TestQueuedOperation_Dead verifies the dead-letter status.
func TestQueuedOperation_Dead(t *testing.T) {
	op := QueuedOperation{Status: QueueStatusPending}
	if op.Dead() {
		t.Error("Dead() = true for a pending operation")
	}
	op.Status = QueueStatusDead
	if !op.Dead() {
		t.Error("Dead() = false for a dead operation")
	}
}

// TestEventType_Valid verifies the event vocabulary.
func TestEventType_Valid(t *testing.T) {
	for _, et := range []EventType{EventGoal, EventYellowCard, EventRedCard, EventFoul,
		EventSubstitution, EventKickoff, EventHalfTime, EventSecondHalfKickoff, EventFullTime} {
		if !et.Valid() {
			t.Errorf("%q.Valid() = false", et)
		}
	}
	if EventType("PENAL").Valid() {
		t.Error("PENAL.Valid() = true")
	}
}

// TestOfflineMatchEvent_Record verifies the remote row shape.
func TestOfflineMatchEvent_Record(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := OfflineMatchEvent{
		MatchID:   "pa-1",
		EventType: EventGoal,
		Team:      SideAway,
		Half:      2,
		Minute:    67,
		Second:    12,
		CreatedAt: created,
	}

	r := ev.Record()
	if r.String("partido_id") != "pa-1" || r.String("tipo") != "GOL" || r.String("equipo") != "visitante" {
		t.Errorf("Record() = %v", r)
	}
	if r.Int("minuto") != 67 || r.Int("tiempo") != 2 {
		t.Errorf("Record() minute/half = %v/%v, want 67/2", r["minuto"], r["tiempo"])
	}
	if _, ok := r["jugador_id"]; ok {
		t.Error("Record() set jugador_id without a player")
	}

	ev.Player = "ju-9"
	if got := ev.Record().String("jugador_id"); got != "ju-9" {
		t.Errorf("jugador_id = %q, want ju-9", got)
	}
}

// TestSyncResult_Total verifies successes are summed across categories.
func TestSyncResult_Total(t *testing.T) {
	r := SyncResult{
		EventsSync:       CategoryResult{Success: 3, Failed: 1},
		MatchUpdatesSync: CategoryResult{Success: 2, Failed: 4},
	}
	if got := r.Total(); got != 5 {
		t.Errorf("Total() = %d, want 5", got)
	}
}
