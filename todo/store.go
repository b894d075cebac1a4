package todo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// ErrNotReady is returned by mutations issued before the store finished loading
// or after its session ended.
var ErrNotReady = errors.New("task store is not ready")

// State is the lifecycle position of a Store.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Backend persists one session's tasks.
type Backend interface {
	// Fetch returns every task, most recently created first.
	Fetch(ctx context.Context) ([]domain.Task, error)
	// Insert stores a new incomplete task and returns it with its assigned id and timestamps.
	Insert(ctx context.Context, text string) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	// DeleteCompleted removes every completed task and returns how many were removed.
	DeleteCompleted(ctx context.Context) (int, error)
}

// Publisher receives change events after a mutation was persisted.
type Publisher interface {
	Publish(ev domain.Event)
}

// BackendFactory opens the backend for a user.
type BackendFactory func(user domain.User) Backend

// View is the read side exposed to the presentation layer.
type View struct {
	Tasks   []domain.Task `json:"todos"`
	Stats   domain.Stats  `json:"stats"`
	Filter  domain.Filter `json:"filter"`
	Loading bool          `json:"loading"`
	State   State         `json:"state"`
}

// Store owns the task collection of a single session.
type Store struct {
	open   BackendFactory
	events Publisher
	clock  *Clock
	logger *log.Logger

	mu         sync.Mutex
	state      State
	user       *domain.User
	backend    Backend
	tasks      []domain.Task
	filter     domain.Filter
	generation uint64
}

// Option customises a Store.
type Option func(*Store)

// WithPublisher sends change events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.events = p }
}

// WithClock replaces the clock used for updatedAt.
func WithClock(c *Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore returns an idle store.
func NewStore(open BackendFactory, logger *log.Logger, opts ...Option) *Store {
	if open == nil {
		panic("todo.NewStore: backend factory is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Store{
		open:   open,
		logger: logger,
		clock:  NewClock(nil),
		state:  StateIdle,
		filter: domain.FilterAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUser moves the store to the session of user. A nil user ends the session.
// Switching to a new identity fetches its tasks; the store reports Loading while
// the fetch is outstanding.
func (s *Store) SetUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	if user == nil {
		s.generation++
		s.state = StateIdle
		s.user = nil
		s.backend = nil
		s.tasks = nil
		s.mu.Unlock()
		return nil
	}
	if s.user != nil && s.user.ID == user.ID {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	u := *user
	backend := s.open(u)
	s.state = StateLoading
	s.user = &u
	s.backend = backend
	s.tasks = nil
	s.mu.Unlock()

	tasks, err := backend.Fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// superseded by a newer SetUser
		return nil
	}
	s.state = StateReady
	if err != nil {
		s.logger.WithError(err).WithField("user", u.ID).Error("fetch todos failed")
		s.tasks = []domain.Task{}
		return fmt.Errorf("fetch todos: %w", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	s.tasks = tasks
	return nil
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns the filtered tasks and unfiltered stats.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Tasks:   s.filter.Apply(s.tasks),
		Stats:   domain.ComputeStats(s.tasks),
		Filter:  s.filter,
		Loading: s.state == StateLoading,
		State:   s.state,
	}
}

// SetFilter replaces the active filter.
func (s *Store) SetFilter(f domain.Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Add creates a task from text. Blank text is ignored and yields a nil task.
func (s *Store) Add(ctx context.Context, text string) (*domain.Task, error) {
	text = domain.NormalizeText(text)
	if text == "" {
		return nil, nil
	}
	task, ev, err := s.add(ctx, text)
	s.emit(ev)
	return task, err
}

func (s *Store) add(ctx context.Context, text string) (*domain.Task, *domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, nil, ErrNotReady
	}
	task, err := s.backend.Insert(ctx, text)
	if err != nil {
		s.logFailure(err, "insert", "")
		return nil, nil, fmt.Errorf("insert todo: %w", err)
	}
	s.tasks = append([]domain.Task{task}, s.tasks...)
	s.clock.Observe(task.UpdatedAt)
	return &task, s.newEvent(domain.TodoCreated, task.ID, task), nil
}

// Update replaces the text of task id. Blank text or an unknown id is ignored.
func (s *Store) Update(ctx context.Context, id, text string) (*domain.Task, error) {
	text = domain.NormalizeText(text)
	if text == "" {
		return nil, nil
	}
	return s.mutate(ctx, id, domain.TodoUpdated, func(t domain.Task, patch *domain.TaskPatch) {
		patch.Text = &text
	})
}

// Toggle flips the completion flag of task id. An unknown id is ignored.
func (s *Store) Toggle(ctx context.Context, id string) (*domain.Task, error) {
	return s.mutate(ctx, id, domain.TodoToggled, func(t domain.Task, patch *domain.TaskPatch) {
		done := !t.Completed
		patch.Completed = &done
	})
}

func (s *Store) mutate(ctx context.Context, id, eventType string, build func(domain.Task, *domain.TaskPatch)) (*domain.Task, error) {
	task, ev, err := s.applyPatch(ctx, id, eventType, build)
	s.emit(ev)
	return task, err
}

func (s *Store) applyPatch(ctx context.Context, id, eventType string, build func(domain.Task, *domain.TaskPatch)) (*domain.Task, *domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, nil, ErrNotReady
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, nil, nil
	}
	current := s.tasks[idx]
	patch := domain.TaskPatch{UpdatedAt: s.clock.After(current.UpdatedAt)}
	build(current, &patch)
	if err := s.backend.Update(ctx, id, patch); err != nil {
		s.logFailure(err, "update", id)
		return nil, nil, fmt.Errorf("update todo %s: %w", id, err)
	}
	patch.Apply(&s.tasks[idx])
	updated := s.tasks[idx]
	return &updated, s.newEvent(eventType, id, updated), nil
}

// Delete removes task id. It reports whether a task was removed; unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	removed, ev, err := s.remove(ctx, id)
	s.emit(ev)
	return removed, err
}

func (s *Store) remove(ctx context.Context, id string) (bool, *domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false, nil, ErrNotReady
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return false, nil, nil
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		s.logFailure(err, "delete", id)
		return false, nil, fmt.Errorf("delete todo %s: %w", id, err)
	}
	s.tasks = append(s.tasks[:idx:idx], s.tasks[idx+1:]...)
	return true, s.newEvent(domain.TodoDeleted, id, nil), nil
}

// ClearCompleted removes every completed task in one backend call.
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	removed, ev, err := s.clearCompleted(ctx)
	s.emit(ev)
	return removed, err
}

func (s *Store) clearCompleted(ctx context.Context) (int, *domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return 0, nil, ErrNotReady
	}
	if domain.ComputeStats(s.tasks).Completed == 0 {
		return 0, nil, nil
	}
	if _, err := s.backend.DeleteCompleted(ctx); err != nil {
		s.logFailure(err, "delete_completed", "")
		return 0, nil, fmt.Errorf("clear completed todos: %w", err)
	}
	kept := make([]domain.Task, 0, len(s.tasks))
	removed := 0
	for _, t := range s.tasks {
		if t.Completed {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	return removed, s.newEvent(domain.TodoCompletedCleared, "", map[string]int{"removed": removed}), nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) logFailure(err error, op, id string) {
	fields := log.Fields{"op": op}
	if s.user != nil {
		fields["user"] = s.user.ID
	}
	if id != "" {
		fields["todo"] = id
	}
	s.logger.WithError(err).WithFields(fields).Error("todo persistence failed")
}
