// Package uuid provides UUID v4 generation plus the temporary identifiers
// assigned to records created while offline.
package uuid

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks client-generated identifiers that the remote store has not
// confirmed yet. Server ids never carry it.
const TempPrefix = "offline_"

var tempRegex = regexp.MustCompile(`^offline_[0-9]+_[0-9a-f]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewTemp generates a temporary id: prefix, creation time in milliseconds and
// a random suffix.
func NewTemp() string {
	return NewTempAt(time.Now())
}

// NewTempAt is NewTemp with an explicit clock reading.
func NewTempAt(now time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return TempPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}

// IsTemp reports whether id was generated by NewTemp.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// TempCreatedAt extracts the creation time encoded in a temporary id.
func TempCreatedAt(id string) (time.Time, bool) {
	if !tempRegex.MatchString(id) {
		return time.Time{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(id, TempPrefix), "_", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// eventNamespace scopes the ids derived by Stable.
var eventNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9e55-0c2f6d8b1a47")

// Stable derives a deterministic UUID (v5) from a temporary id, so replaying
// the same buffered item always targets the same remote row.
func Stable(tempID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(tempID)).String()
}
