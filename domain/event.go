package domain

import "github.com/bytedance/sonic"

const (
	TodoCreated          = "todo-created"
	TodoUpdated          = "todo-updated"
	TodoToggled          = "todo-toggled"
	TodoDeleted          = "todo-deleted"
	TodoCompletedCleared = "todo-completed-cleared"
)

// Event describes a persisted change to a user's todos.
type Event struct {
	ID       string                 `json:"id"`
	UserID   string                 `json:"userId"`
	EntityID string                 `json:"entityId,omitempty"`
	Type     string                 `json:"type"`
	Data     sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time     int64                  `json:"time"`
}
