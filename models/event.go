package models

import (
	"time"
)

// Event rows are written by the admin surface; the engine only reads the
// start time for its temporal guard.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Venue     string    `json:"venue"`
	StartTime time.Time `json:"start_time"`
	Status    string    `json:"status"` // draft, published, ended
}
