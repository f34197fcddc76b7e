package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/uuid"
)

// Call records one request received by a Fake.
type Call struct {
	Method string
	Table  string
	ID     string
	Record models.Record
}

// Fake is an in-memory Store. It records every call and can be told to fail.
type Fake struct {
	mu     sync.Mutex
	tables map[string][]models.Record
	calls  []Call
	fail   func(Call) error
	seq    int

	// AssignIDs makes Upsert replace temporary client ids with server ids.
	AssignIDs bool
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{tables: make(map[string][]models.Record)}
}

// Seed appends records to table without recording calls.
func (f *Fake) Seed(table string, records ...models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.tables[table] = append(f.tables[table], r.Clone())
	}
}

// FailWhen installs a predicate consulted before every call; a non-nil error
// fails the call without side effects. nil clears it.
func (f *Fake) FailWhen(fn func(Call) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// Records returns a copy of table.
func (f *Fake) Records(table string) []models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Record, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the recorded calls matching method and table.
func (f *Fake) CallsFor(method, table string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method && c.Table == table {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(c Call) error {
	f.calls = append(f.calls, c)
	if f.fail != nil {
		return f.fail(c)
	}
	return nil
}

// Upsert implements Store.
func (f *Fake) Upsert(ctx context.Context, table string, record models.Record) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("upsert", table, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := record.Clone()
	if err := f.record(Call{Method: "upsert", Table: table, ID: rec.ID(), Record: rec.Clone()}); err != nil {
		return nil, err
	}

	id := rec.ID()
	if id == "" || (f.AssignIDs && uuid.IsTemp(id)) {
		f.seq++
		rec[models.FieldID] = fmt.Sprintf("srv-%d", f.seq)
	}

	rows := f.tables[table]
	for i, existing := range rows {
		if existing.ID() == rec.ID() {
			rows[i] = existing.Merge(rec)
			return rows[i].Clone(), nil
		}
	}
	f.tables[table] = append(rows, rec)
	return rec.Clone(), nil
}

// Delete implements Store.
func (f *Fake) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("delete", table, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Method: "delete", Table: table, ID: id}); err != nil {
		return err
	}
	rows := f.tables[table]
	for i, existing := range rows {
		if existing.ID() == id {
			f.tables[table] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

// Select implements Store.
func (f *Fake) Select(ctx context.Context, table string, query Query) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("select", table, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(Call{Method: "select", Table: table}); err != nil {
		return nil, err
	}
	var out []models.Record
	for _, r := range f.tables[table] {
		if query.Match(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Ping implements Store.
func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(Call{Method: "ping"})
}
