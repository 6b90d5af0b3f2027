package models

import "time"

// RatingPersona is the long-lived Elo record for a persona within a category.
type RatingPersona struct {
	Persona     string
	Category    string
	Elo         float64
	NMatches    int
	WinRate     float64
	CILow       float64
	CIHigh      float64
	LastUpdated time.Time
}
