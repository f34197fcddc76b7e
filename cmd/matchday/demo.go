package main

import (
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
)

// demoUserID owns the demo tournament and follows the demo league.
const demoUserID = "demo-user"

// seedDemo fills an in-memory backend with a small league so the commands can
// be tried without a hosted backend.
func seedDemo(f *remote.Fake) {
	f.Seed(string(models.TableFollowedTournaments),
		models.Record{"id": "seg-1", "usuario_id": demoUserID, "torneo_id": "liga-barrio"},
	)
	f.Seed(string(models.TableTournaments),
		models.Record{"id": "liga-barrio", "nombre": "Liga del Barrio", "admin_id": "org-7"},
		models.Record{"id": "copa-demo", "nombre": "Copa Demo", "admin_id": demoUserID},
	)
	f.Seed(string(models.TableTeams),
		models.Record{"id": "eq-rojos", "nombre": "Rojos", "torneo_id": "liga-barrio"},
		models.Record{"id": "eq-azules", "nombre": "Azules", "torneo_id": "liga-barrio"},
		models.Record{"id": "eq-verdes", "nombre": "Verdes", "torneo_id": "copa-demo"},
		models.Record{"id": "eq-negros", "nombre": "Negros", "torneo_id": "copa-demo"},
	)
	f.Seed(string(models.TablePlayers),
		models.Record{"id": "ju-1", "nombre": "Ana Torres", "dorsal": 9, "equipo_id": "eq-rojos"},
		models.Record{"id": "ju-2", "nombre": "Luis Pena", "dorsal": 1, "equipo_id": "eq-azules"},
		models.Record{"id": "ju-3", "nombre": "Marta Gil", "dorsal": 10, "equipo_id": "eq-verdes"},
	)
	f.Seed(string(models.TableMatches),
		models.Record{
			"id":                   "pa-1",
			"torneo_id":            "liga-barrio",
			"equipo_local_id":      "eq-rojos",
			"equipo_visitante_id":  "eq-azules",
			models.FieldMatchState:  models.MatchInProgress,
			models.FieldHomeGoals:   1,
			models.FieldAwayGoals:   0,
			models.FieldClock:       1260,
			models.FieldCurrentHalf: 1,
		},
		models.Record{
			"id":                  "pa-2",
			"torneo_id":           "copa-demo",
			"equipo_local_id":     "eq-verdes",
			"equipo_visitante_id": "eq-negros",
			models.FieldMatchState: models.MatchScheduled,
			models.FieldHomeGoals:  0,
			models.FieldAwayGoals:  0,
		},
	)
	f.Seed(string(models.TableMatchEvents),
		models.Record{
			"id": "ev-1", "partido_id": "pa-1", "tipo_evento": string(models.EventGoal),
			"equipo_id": "eq-rojos", "jugador_id": "ju-1", "minuto": 17,
		},
	)
}
