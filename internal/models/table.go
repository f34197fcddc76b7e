// Package models provides data model definitions for Matchday Core.
package models

import (
	"fmt"

	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
)

// TableKind identifies one of the closed set of tables the client knows how to
// cache and replicate.
type TableKind string

const (
	TableTournaments         TableKind = "torneos"
	TableTeams               TableKind = "equipos"
	TablePlayers             TableKind = "jugadores"
	TableMatches             TableKind = "partidos"
	TableFollowedTournaments TableKind = "torneos_seguidos"
	TableMatchEvents         TableKind = "eventos_partido"
)

// AllTables lists every known table in download order.
var AllTables = []TableKind{
	TableTournaments,
	TableTeams,
	TablePlayers,
	TableMatches,
	TableFollowedTournaments,
	TableMatchEvents,
}

// ParseTable resolves a table name. Any name outside the closed set is a
// configuration error.
func ParseTable(name string) (TableKind, error) {
	for _, t := range AllTables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("unknown table %q", name))
}

// String returns the local table name.
func (t TableKind) String() string {
	return string(t)
}

// RemoteName returns the table name used by the remote store.
func (t TableKind) RemoteName() string {
	switch t {
	case TableTournaments:
		return "torneos"
	case TableTeams:
		return "equipos"
	case TablePlayers:
		return "jugadores"
	case TableMatches:
		return "partidos"
	case TableFollowedTournaments:
		return "torneos_seguidos"
	case TableMatchEvents:
		return "eventos_partido"
	}
	return ""
}

// GenericSync reports whether inserts and updates for this table go through
// the generic operation queue. Match events are buffered separately.
func (t TableKind) GenericSync() bool {
	switch t {
	case TableTournaments, TableTeams, TablePlayers, TableMatches, TableFollowedTournaments:
		return true
	case TableMatchEvents:
		return false
	}
	return false
}

// Valid reports whether t is a member of the closed set.
func (t TableKind) Valid() bool {
	return t.RemoteName() != ""
}
