package domain

import (
	"strings"
	"time"
)

// Task represents a single to-do item owned by one user.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskPatch carries a partial update. UpdatedAt is always written.
type TaskPatch struct {
	Text      *string
	Completed *bool
	UpdatedAt time.Time
}

// Apply merges the patch into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	t.UpdatedAt = p.UpdatedAt
}

// NormalizeText trims surrounding whitespace. An empty result means the text is blank.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// Stats aggregates counts over the full, unfiltered collection.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// ComputeStats counts tasks by completion state.
func ComputeStats(tasks []Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s
}
