package events

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/sampleday/backend/internal/models"
)

// searchable implements fuzzy.Source over event titles and venues.
type searchable []models.Event

func (s searchable) String(i int) string {
	return strings.ToLower(s[i].Title + " " + s[i].Venue)
}

func (s searchable) Len() int { return len(s) }

// Search returns the events matching query, best match first. An empty
// query returns the list unchanged.
func Search(list []models.Event, query string) []models.Event {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return list
	}
	matches := fuzzy.FindFrom(query, searchable(list))
	out := make([]models.Event, 0, len(matches))
	for _, m := range matches {
		out = append(out, list[m.Index])
	}
	return out
}
