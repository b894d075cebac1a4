package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"todo-api/domain"
)

const (
	edmInt64 = "Edm.Int64"

	// entity group transactions accept at most 100 operations
	maxBatchSize = 100
)

// tableClient is the subset of *aztables.Client used by Tables.
type tableClient interface {
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores todos and users in Azure Table Storage. Todos are partitioned by
// user id so every query is confined to one user's rows.
type Tables struct {
	todoTable tableClient
	userTable tableClient
	now       func() time.Time
}

// New creates a Tables instance from the given connection string.
func New(connStr, todosTable, usersTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		todoTable: svc.NewClient(todosTable),
		userTable: svc.NewClient(usersTable),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// entityKeys carries only the keys; the service-managed Timestamp is never written.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type todoEntity struct {
	entityKeys
	Text          string `json:"Text"`
	Completed     bool   `json:"Completed"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type todoUpdate struct {
	PartitionKey  string  `json:"PartitionKey"`
	RowKey        string  `json:"RowKey"`
	Text          *string `json:"Text,omitempty"`
	Completed     *bool   `json:"Completed,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func encodeTodoEntity(userID string, t domain.Task) todoEntity {
	return todoEntity{
		entityKeys:    entityKeys{PartitionKey: userID, RowKey: t.ID},
		Text:          t.Text,
		Completed:     t.Completed,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

func decodeTodoEntity(data []byte) (domain.Task, error) {
	var ent todoEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:        ent.RowKey,
		Text:      ent.Text,
		Completed: ent.Completed,
		CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, ent.UpdatedAt).UTC(),
	}, nil
}

func encodeTodoUpdate(userID, id string, patch domain.TaskPatch) todoUpdate {
	return todoUpdate{
		PartitionKey:  userID,
		RowKey:        id,
		Text:          patch.Text,
		Completed:     patch.Completed,
		UpdatedAt:     patch.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func partitionFilter(userID string) string {
	return "PartitionKey eq " + quote(userID)
}

func completedFilter(userID string) string {
	return partitionFilter(userID) + " and Completed eq true"
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
}

// FetchTodos retrieves all todos of the user, most recently created first.
func (s *Tables) FetchTodos(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.todoTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTodoEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

// InsertTodo adds a new incomplete todo and returns it with its id and timestamps.
func (s *Tables) InsertTodo(ctx context.Context, userID, text string) (domain.Task, error) {
	now := s.now()
	t := domain.Task{ID: uuid.NewString(), Text: text, CreatedAt: now, UpdatedAt: now}
	payload, err := json.Marshal(encodeTodoEntity(userID, t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.todoTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTodo merges patch into the user's todo. A missing row is not an error.
func (s *Tables) UpdateTodo(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	payload, err := json.Marshal(encodeTodoUpdate(userID, id, patch))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.todoTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

// DeleteTodo removes the user's todo. Deleting a missing row succeeds.
func (s *Tables) DeleteTodo(ctx context.Context, userID, id string) error {
	_, err := s.todoTable.DeleteEntity(ctx, userID, id, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

// DeleteCompletedTodos removes every completed todo of the user in batches.
func (s *Tables) DeleteCompletedTodos(ctx context.Context, userID string) (int, error) {
	filter := completedFilter(userID)
	sel := "PartitionKey,RowKey"
	pager := s.todoTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	var keys []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, e := range resp.Entities {
			var ent entityKeys
			if err := json.Unmarshal(e, &ent); err != nil {
				return 0, err
			}
			keys = append(keys, ent.RowKey)
		}
	}

	removed := 0
	for _, chunk := range chunkKeys(keys, maxBatchSize) {
		actions := make([]aztables.TransactionAction, 0, len(chunk))
		for _, rk := range chunk {
			payload, err := json.Marshal(entityKeys{PartitionKey: userID, RowKey: rk})
			if err != nil {
				return removed, err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
		}
		if _, err := s.todoTable.SubmitTransaction(ctx, actions, nil); err != nil {
			return removed, fmt.Errorf("delete completed batch: %w", err)
		}
		removed += len(chunk)
	}
	return removed, nil
}

func chunkKeys(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > 0 {
		n := size
		if len(keys) < n {
			n = len(keys)
		}
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}
