package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/internal/models"
)

// ContextFor converts an event to the data the check-in engine needs.
func ContextFor(e *models.Event) checkin.Context {
	loc := checkin.Location{Latitude: e.Latitude, Longitude: e.Longitude}
	start, end := e.StartsAt, e.EndsAt
	return checkin.Context{
		EventLocation: &loc,
		StartTime:     &start,
		EndTime:       &end,
		ExpectedCode:  e.CheckInCode,
	}
}

// Source loads check-in contexts from the event store.
type Source struct {
	store Store
}

// NewSource creates a check-in context source.
func NewSource(store Store) *Source {
	return &Source{store: store}
}

// LoadContext implements checkin.ContextSource.
func (s *Source) LoadContext(ctx context.Context, eventID uuid.UUID) (checkin.Context, error) {
	e, err := s.store.GetByID(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return checkin.Context{}, fmt.Errorf("load event %s: %w", eventID, checkin.ErrUnknownEvent)
	}
	if err != nil {
		return checkin.Context{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	return ContextFor(e), nil
}
