package slot

import "time"

// Slot is a bookable (date, time) the clinician opened. It describes
// availability only; appointments are not linked to it.
type Slot struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
