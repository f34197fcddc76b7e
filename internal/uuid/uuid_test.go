// Package uuid provides unit tests for server and temporary id generation.
package uuid

import (
	"regexp"
	"testing"
	"time"
)

var v4Format = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// TestNew tests that New() generates UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !v4Format.MatchString(id) {
		t.Errorf("New() = %q, want UUID v4 format", id)
	}
	if IsTemp(id) {
		t.Error("server UUID reported as temporary")
	}
}

// TestNewTemp verifies temporary ids carry the prefix, the clock and a suffix.
func TestNewTemp(t *testing.T) {
	id := NewTemp()

	if !IsTemp(id) {
		t.Errorf("IsTemp(%q) = false, want true", id)
	}
	if !tempRegex.MatchString(id) {
		t.Errorf("NewTemp() = %q, want offline_<ms>_<12 hex>", id)
	}
	if v4Format.MatchString(id) {
		t.Errorf("temporary id %q must not look like a server UUID", id)
	}
}

// TestNewTempUniqueness verifies ids minted in the same millisecond differ.
func TestNewTempUniqueness(t *testing.T) {
	now := time.Now()
	ids := make(map[string]bool)

	for i := 0; i < 500; i++ {
		id := NewTempAt(now)
		if ids[id] {
			t.Fatalf("Duplicate temporary id generated: %s", id)
		}
		ids[id] = true
	}
}

func TestTempCreatedAt(t *testing.T) {
	now := time.UnixMilli(1760000000123)
	id := NewTempAt(now)

	got, ok := TempCreatedAt(id)
	if !ok {
		t.Fatalf("TempCreatedAt(%q) ok = false", id)
	}
	if !got.Equal(now) {
		t.Errorf("TempCreatedAt() = %v, want %v", got, now)
	}

	for _, id := range []string{
		"f47ac10b-58cc-4372-a567-0e02b2c3d479",
		"offline_",
		"offline_abc_0123456789ab",
	} {
		if _, ok := TempCreatedAt(id); ok {
			t.Errorf("TempCreatedAt(%q) ok = true, want false", id)
		}
	}
}

func TestStable(t *testing.T) {
	tmp := NewTemp()
	a, b := Stable(tmp), Stable(tmp)
	if a != b {
		t.Errorf("Stable() not deterministic: %s != %s", a, b)
	}
	if IsTemp(a) {
		t.Errorf("Stable() = %s, must not look temporary", a)
	}
	if Stable(NewTemp()) == a {
		t.Error("different temp ids must map to different ids")
	}
}

// BenchmarkNewTemp benchmarks temporary id generation.
func BenchmarkNewTemp(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewTemp()
	}
}
