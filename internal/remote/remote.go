// Package remote is the client side of the hosted relational store: the
// request/response contract the sync engine and downloader replay against.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// Store is the remote store contract. Table names are remote names.
type Store interface {
	// Upsert inserts or replaces the record keyed by id and returns the
	// stored representation, which may carry a server-assigned id.
	Upsert(ctx context.Context, table string, record models.Record) (models.Record, error)
	// Delete removes the record with id. Deleting an absent id succeeds.
	Delete(ctx context.Context, table, id string) error
	Select(ctx context.Context, table string, query Query) ([]models.Record, error)
	// Ping checks that the store answers at all.
	Ping(ctx context.Context) error
}

// Filter restricts a Select to rows whose Field matches one of Values.
type Filter struct {
	Field  string
	Values []string
}

// Query is a conjunction of filters.
type Query []Filter

// Eq builds an equality filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Values: []string{value}}
}

// In builds a membership filter.
func In(field string, values ...string) Filter {
	return Filter{Field: field, Values: values}
}

// Match reports whether r satisfies every filter.
func (q Query) Match(r models.Record) bool {
	for _, f := range q {
		got := r.String(f.Field)
		ok := false
		for _, v := range f.Values {
			if got == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Error is a failed remote call. Status is zero for transport failures.
type Error struct {
	Op      string
	Table   string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote %s", e.Op)
	if e.Table != "" {
		fmt.Fprintf(&b, " %s", e.Table)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying err can never succeed: a 4xx rejection
// other than timeouts and rate limiting.
func IsPermanent(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	if re.Status < 400 || re.Status >= 500 {
		return false
	}
	switch re.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return true
}

// Rejected builds a permanent rejection, as the store reports validation and
// constraint errors.
func Rejected(op, table, message string) *Error {
	return &Error{Op: op, Table: table, Status: http.StatusConflict, Message: message}
}

// Unavailable builds a transient transport failure.
func Unavailable(op, table string, err error) *Error {
	return &Error{Op: op, Table: table, Err: err}
}
