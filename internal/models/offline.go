package models

import "time"

// EventType is a discrete live-match event.
type EventType string

const (
	EventGoal              EventType = "GOL"
	EventYellowCard        EventType = "TARJETA_AMARILLA"
	EventRedCard           EventType = "TARJETA_ROJA"
	EventFoul              EventType = "FALTA"
	EventSubstitution      EventType = "CAMBIO"
	EventKickoff           EventType = "INICIO"
	EventHalfTime          EventType = "FIN_PRIMER_TIEMPO"
	EventSecondHalfKickoff EventType = "INICIO_SEGUNDO_TIEMPO"
	EventFullTime          EventType = "FIN"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventGoal, EventYellowCard, EventRedCard, EventFoul, EventSubstitution,
		EventKickoff, EventHalfTime, EventSecondHalfKickoff, EventFullTime:
		return true
	}
	return false
}

// Side is the team an event is credited to.
type Side string

const (
	SideHome Side = "local"
	SideAway Side = "visitante"
)

// Match record fields touched by the live-scoring path.
const (
	FieldHomeGoals   = "goles_local"
	FieldAwayGoals   = "goles_visitante"
	FieldClock       = "segundos_transcurridos"
	FieldCurrentHalf = "tiempo_actual"
	FieldMatchState  = "estado"
)

// Match states.
const (
	MatchScheduled  = "programado"
	MatchInProgress = "en_curso"
	MatchHalfTime   = "descanso"
	MatchFinished   = "finalizado"
)

// OfflineMatchEvent is a live-match event captured without connectivity.
type OfflineMatchEvent struct {
	OfflineID string    `msgpack:"offline_id" json:"offlineId"`
	MatchID   string    `msgpack:"match_id" json:"matchId"`
	EventType EventType `msgpack:"event_type" json:"eventType"`
	Team      Side      `msgpack:"team" json:"team"`
	Player    string    `msgpack:"player,omitempty" json:"player,omitempty"`
	Half      int       `msgpack:"half" json:"half"`
	Minute    int       `msgpack:"minute" json:"minute"`
	Second    int       `msgpack:"second" json:"second"`
	CreatedAt time.Time `msgpack:"created_at" json:"createdAt"`
	Synced    bool      `msgpack:"synced" json:"synced"`
	Attempts  int       `msgpack:"attempts" json:"attempts"`
	LastError string    `msgpack:"last_error,omitempty" json:"lastError,omitempty"`
}

// Record converts the event into the remote eventos_partido row shape.
func (e *OfflineMatchEvent) Record() Record {
	r := Record{
		"partido_id": e.MatchID,
		"tipo":       string(e.EventType),
		"equipo":     string(e.Team),
		"tiempo":     e.Half,
		"minuto":     e.Minute,
		"segundo":    e.Second,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Player != "" {
		r["jugador_id"] = e.Player
	}
	return r
}

// OfflineMatchUpdate is a pending match-state snapshot. At most one exists per
// match.
type OfflineMatchUpdate struct {
	MatchID   string    `msgpack:"match_id" json:"matchId"`
	Data      Record    `msgpack:"data" json:"data"`
	OfflineID string    `msgpack:"offline_id" json:"offlineId"`
	CreatedAt time.Time `msgpack:"created_at" json:"createdAt"`
	Synced    bool      `msgpack:"synced" json:"synced"`
	Attempts  int       `msgpack:"attempts" json:"attempts"`
	LastError string    `msgpack:"last_error,omitempty" json:"lastError,omitempty"`
}
