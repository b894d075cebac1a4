package todo

import (
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"todo-api/domain"
)

// newEvent builds the change event of a persisted mutation. It must be called
// with s.mu held and returns nil when no publisher is configured.
func (s *Store) newEvent(eventType, entityID string, data any) *domain.Event {
	if s.events == nil || s.user == nil {
		return nil
	}
	ev := &domain.Event{
		ID:       uuid.NewString(),
		UserID:   s.user.ID,
		EntityID: entityID,
		Type:     eventType,
		Time:     s.clock.Next().UnixNano(),
	}
	if data != nil {
		payload, err := sonic.Marshal(data)
		if err != nil {
			s.logger.WithError(err).WithField("type", eventType).Warn("encode event data failed")
		} else {
			ev.Data = payload
		}
	}
	return ev
}

// emit hands ev to the publisher. It must be called without s.mu held.
func (s *Store) emit(ev *domain.Event) {
	if ev != nil {
		s.events.Publish(*ev)
	}
}
