package models

import "time"

// Tutor is a persona whose fields seed the system prompt.
type Tutor struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
