package todo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"todo-api/domain"
)

// memBackend is an in-memory Backend that counts calls and can be told to fail.
type memBackend struct {
	mu     sync.Mutex
	tasks  []domain.Task
	nextID int
	now    time.Time
	calls  map[string]int
	fail   map[string]error

	fetchGate chan struct{}
}

func newMemBackend(tasks ...domain.Task) *memBackend {
	return &memBackend{
		tasks: tasks,
		now:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		calls: map[string]int{},
		fail:  map[string]error{},
	}
}

func (m *memBackend) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.fail[op]
}

func (m *memBackend) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memBackend) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *memBackend) Fetch(ctx context.Context) ([]domain.Task, error) {
	if m.fetchGate != nil {
		select {
		case <-m.fetchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.record("fetch"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Task(nil), m.tasks...), nil
}

func (m *memBackend) Insert(ctx context.Context, text string) (domain.Task, error) {
	if err := m.record("insert"); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.now = m.now.Add(time.Second)
	t := domain.Task{ID: fmt.Sprintf("t%d", m.nextID), Text: text, CreatedAt: m.now, UpdatedAt: m.now}
	m.tasks = append([]domain.Task{t}, m.tasks...)
	return t, nil
}

func (m *memBackend) Update(ctx context.Context, id string, patch domain.TaskPatch) error {
	if err := m.record("update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			patch.Apply(&m.tasks[i])
		}
	}
	return nil
}

func (m *memBackend) Delete(ctx context.Context, id string) error {
	if err := m.record("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memBackend) DeleteCompleted(ctx context.Context) (int, error) {
	if err := m.record("delete_completed"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tasks[:0]
	removed := 0
	for _, t := range m.tasks {
		if t.Completed {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return removed, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// blockingPublisher signals entered on every Publish and holds it until release is closed.
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(domain.Event) {
	p.entered <- struct{}{}
	<-p.release
}
