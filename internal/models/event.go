package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a sampling event users can discover, favorite and check in to.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CheckInCode string    `json:"-"`
	ImageKey    string    `json:"image_key,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventAdmin exposes the check-in code to the event's organizers.
type EventAdmin struct {
	Event
	CheckInCode string `json:"check_in_code"`
}

// CheckIn is a recorded, successful check-in.
type CheckIn struct {
	ID          uuid.UUID `json:"id"`
	EventID     uuid.UUID `json:"event_id"`
	UserID      uuid.UUID `json:"user_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
