package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"todo-api/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueueSendWritesJSON(t *testing.T) {
	fq := &fakeQueue{}
	q := &Queue{client: fq}
	ev := domain.Event{
		ID:       "e1",
		UserID:   "u1",
		EntityID: "t1",
		Type:     domain.TodoToggled,
		Data:     []byte(`{"completed":true}`),
		Time:     42,
	}

	if err := q.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}
	var got domain.Event
	if err := sonic.UnmarshalString(fq.messages[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "e1" || got.UserID != "u1" || got.Type != domain.TodoToggled || string(got.Data) != `{"completed":true}` {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestQueueSendError(t *testing.T) {
	boom := errors.New("throttled")
	q := &Queue{client: &fakeQueue{err: boom}}
	if err := q.Send(context.Background(), domain.Event{ID: "e1"}); !errors.Is(err, boom) {
		t.Fatalf("expected enqueue error, got %v", err)
	}
}
