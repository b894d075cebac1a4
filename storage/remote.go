package storage

import (
	"context"

	"todo-api/domain"
	"todo-api/todo"
)

// Remote is the multi-user persistence API. Every call is scoped by userID.
type Remote interface {
	FetchTodos(ctx context.Context, userID string) ([]domain.Task, error)
	InsertTodo(ctx context.Context, userID, text string) (domain.Task, error)
	UpdateTodo(ctx context.Context, userID, id string, patch domain.TaskPatch) error
	DeleteTodo(ctx context.Context, userID, id string) error
	DeleteCompletedTodos(ctx context.Context, userID string) (int, error)
}

type userBackend struct {
	remote Remote
	userID string
}

// ForUser binds remote to a single user so it can back a todo.Store.
func ForUser(remote Remote, userID string) todo.Backend {
	return &userBackend{remote: remote, userID: userID}
}

// Factory returns a todo.BackendFactory opening remote for each session user.
func Factory(remote Remote) todo.BackendFactory {
	return func(u domain.User) todo.Backend { return ForUser(remote, u.ID) }
}

func (b *userBackend) Fetch(ctx context.Context) ([]domain.Task, error) {
	return b.remote.FetchTodos(ctx, b.userID)
}

func (b *userBackend) Insert(ctx context.Context, text string) (domain.Task, error) {
	return b.remote.InsertTodo(ctx, b.userID, text)
}

func (b *userBackend) Update(ctx context.Context, id string, patch domain.TaskPatch) error {
	return b.remote.UpdateTodo(ctx, b.userID, id, patch)
}

func (b *userBackend) Delete(ctx context.Context, id string) error {
	return b.remote.DeleteTodo(ctx, b.userID, id)
}

func (b *userBackend) DeleteCompleted(ctx context.Context) (int, error) {
	return b.remote.DeleteCompletedTodos(ctx, b.userID)
}
