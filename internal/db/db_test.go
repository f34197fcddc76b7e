// Package db tests for database connection management and the KV backends.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

// TestOpen_createsNestedDir verifies the data directory is created on demand.
func TestOpen_createsNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	db, err := OpenMigrated(dir)
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM kv_entries").Scan(&count); err != nil {
		t.Fatalf("kv_entries not queryable: %v", err)
	}
}

// =====================================================
// KV contract, run against every backend
// =====================================================

type kvFactory struct {
	name string
	open func(t *testing.T) KV
}

func kvFactories() []kvFactory {
	return []kvFactory{
		{"memory", func(t *testing.T) KV { return NewMemoryKV() }},
		{"sqlite", func(t *testing.T) KV {
			database, err := OpenMigrated(t.TempDir())
			if err != nil {
				t.Fatalf("OpenMigrated() failed: %v", err)
			}
			return NewSQLiteKV(database)
		}},
		{"badger", func(t *testing.T) KV {
			kv, err := OpenBadgerMemory()
			if err != nil {
				t.Fatalf("OpenBadgerMemory() failed: %v", err)
			}
			return kv
		}},
	}
}

func forEachKV(t *testing.T, fn func(t *testing.T, kv KV)) {
	for _, f := range kvFactories() {
		t.Run(f.name, func(t *testing.T) {
			kv := f.open(t)
			defer kv.Close()
			fn(t, kv)
		})
	}
}

func TestKV_getMissing(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		_, err := kv.Get(context.Background(), "missing")
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrKeyNotFound", err)
		}
	})
}

func TestKV_putGetOverwrite(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		if err := kv.Put(ctx, "k", []byte("v1")); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := kv.Put(ctx, "k", []byte("v2")); err != nil {
			t.Fatalf("Put() overwrite failed: %v", err)
		}

		got, err := kv.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("Get() = %q, want %q", got, "v2")
		}
	})
}

func TestKV_delete(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		_ = kv.Put(ctx, "k", []byte("v"))

		if err := kv.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrKeyNotFound", err)
		}
		if err := kv.Delete(ctx, "k"); err != nil {
			t.Errorf("Delete() of absent key = %v, want nil", err)
		}
	})
}

func TestKV_keysByPrefix(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		for _, k := range []string{"table:partidos", "table:equipos", "sync_queue", "table_x", "tab"} {
			if err := kv.Put(ctx, k, []byte("x")); err != nil {
				t.Fatalf("Put(%s) failed: %v", k, err)
			}
		}

		keys, err := kv.Keys(ctx, "table:")
		if err != nil {
			t.Fatalf("Keys() failed: %v", err)
		}
		want := []string{"table:equipos", "table:partidos"}
		if fmt.Sprint(keys) != fmt.Sprint(want) {
			t.Errorf("Keys(table:) = %v, want %v", keys, want)
		}

		all, _ := kv.Keys(ctx, "")
		if len(all) != 5 {
			t.Errorf("Keys(\"\") returned %d keys, want 5", len(all))
		}
	})
}

func TestKV_valueIsolation(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		buf := []byte("abc")
		_ = kv.Put(ctx, "k", buf)
		buf[0] = 'z'

		got, _ := kv.Get(ctx, "k")
		if string(got) != "abc" {
			t.Errorf("stored value changed through caller buffer: %q", got)
		}
	})
}

func TestKV_concurrentWrites(t *testing.T) {
	forEachKV(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := kv.Put(ctx, fmt.Sprintf("k%02d", i), []byte("v")); err != nil {
					t.Errorf("Put() failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		keys, _ := kv.Keys(ctx, "k")
		if len(keys) != 20 {
			t.Errorf("Keys() = %d, want 20", len(keys))
		}
	})
}

// =====================================================
// OpenKV
// =====================================================

func TestOpenKV(t *testing.T) {
	for _, backend := range []string{BackendSQLite, BackendBadger, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			kv, err := OpenKV(backend, t.TempDir())
			if err != nil {
				t.Fatalf("OpenKV(%s) failed: %v", backend, err)
			}
			defer kv.Close()
			if err := kv.Put(context.Background(), "k", []byte("v")); err != nil {
				t.Errorf("Put() failed: %v", err)
			}
		})
	}

	if _, err := OpenKV("postgres", t.TempDir()); err == nil {
		t.Error("OpenKV(postgres) should fail")
	}
}

func TestOpenKV_sqlitePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	kv, err := OpenKV(BackendSQLite, dir)
	if err != nil {
		t.Fatalf("OpenKV() failed: %v", err)
	}
	_ = kv.Put(ctx, "sync_queue", []byte("payload"))
	_ = kv.Close()

	kv, err = OpenKV(BackendSQLite, dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer kv.Close()

	got, err := kv.Get(ctx, "sync_queue")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}
