package models

import "time"

// Chat groups the messages exchanged with one tutor.
type Chat struct {
	ID        string    `json:"_id"`
	TutorID   string    `json:"tutorId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
