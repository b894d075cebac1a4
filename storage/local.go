package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Local keeps a single task collection in a JSON file. Every mutation rewrites
// the whole file; a failed write leaves both the file and the adapter unchanged.
type Local struct {
	path   string
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks []domain.Task
}

// NewLocal returns an adapter persisting to path.
func NewLocal(path string, logger *log.Logger) *Local {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Local{
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Fetch loads the collection from disk. A missing file is an empty collection; an
// unreadable or corrupt file is logged and also treated as empty.
func (l *Local) Fetch(ctx context.Context) ([]domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tasks = l.load()
	return append([]domain.Task(nil), l.tasks...), nil
}

func (l *Local) load() []domain.Task {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.WithError(err).WithField("path", l.path).Error("read local todos failed")
		}
		return []domain.Task{}
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		l.logger.WithError(err).WithField("path", l.path).Error("decode local todos failed")
		return []domain.Task{}
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks
}

// Insert prepends a new task.
func (l *Local) Insert(ctx context.Context, text string) (domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	t := domain.Task{ID: uuid.NewString(), Text: text, CreatedAt: now, UpdatedAt: now}
	next := make([]domain.Task, 0, len(l.tasks)+1)
	next = append(next, t)
	next = append(next, l.tasks...)
	if err := l.commit(next); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Update applies patch to task id. Unknown ids leave the file untouched.
func (l *Local) Update(ctx context.Context, id string, patch domain.TaskPatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return nil
	}
	next := append([]domain.Task(nil), l.tasks...)
	patch.Apply(&next[idx])
	return l.commit(next)
}

// Delete removes task id.
func (l *Local) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return nil
	}
	next := make([]domain.Task, 0, len(l.tasks)-1)
	next = append(next, l.tasks[:idx]...)
	next = append(next, l.tasks[idx+1:]...)
	return l.commit(next)
}

// DeleteCompleted removes all completed tasks.
func (l *Local) DeleteCompleted(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]domain.Task, 0, len(l.tasks))
	for _, t := range l.tasks {
		if !t.Completed {
			next = append(next, t)
		}
	}
	removed := len(l.tasks) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := l.commit(next); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *Local) indexOf(id string) int {
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// commit writes next to disk and adopts it only when the write succeeded.
func (l *Local) commit(next []domain.Task) error {
	data, err := sonic.Marshal(next)
	if err != nil {
		l.logger.WithError(err).Error("encode local todos failed")
		return fmt.Errorf("encode todos: %w", err)
	}
	if err := writeFileAtomic(l.path, data); err != nil {
		l.logger.WithError(err).WithField("path", l.path).Error("write local todos failed")
		return fmt.Errorf("write todos: %w", err)
	}
	l.tasks = next
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
