package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dealbot/internal/transport"
	"dealbot/pkg/logx"
)

type recordingMessenger struct {
	mu       sync.Mutex
	users    []int64
	channels []int64
	failUser int64
}

func (m *recordingMessenger) Start(context.Context, chan<- transport.Update) error { return nil }
func (m *recordingMessenger) Stop(context.Context) error                           { return nil }
func (m *recordingMessenger) DeleteMessage(context.Context, int64, int) error      { return nil }
func (m *recordingMessenger) AnswerCallback(context.Context, string, string) error { return nil }

func (m *recordingMessenger) SendUser(_ context.Context, userID int64, _ string, _ *transport.SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == m.failUser {
		return errors.New("blocked by user")
	}
	m.users = append(m.users, userID)
	return nil
}

func (m *recordingMessenger) SendChannel(_ context.Context, channelID int64, _ string, _ *transport.SendOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channelID)
	return len(m.channels), nil
}

func (m *recordingMessenger) sent() ([]int64, []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.users...), append([]int64(nil), m.channels...)
}

func TestDeliveryFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	msgr := &recordingMessenger{failUser: 11}
	svc := New(Config{Workers: 1, RatePerSec: 1000}, msgr, logx.Nop())
	svc.Start(context.Background())

	for _, uid := range []int64{10, 11, 12} {
		if err := svc.Enqueue(transport.Notification{Target: transport.Target{UserID: uid}, Text: "hi"}); err != nil {
			t.Fatalf("enqueue %d: %v", uid, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(ctx)

	users, _ := msgr.sent()
	if len(users) != 2 || users[0] != 10 || users[1] != 12 {
		t.Fatalf("want deliveries to 10 and 12 despite 11 failing, got %v", users)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	msgr := &recordingMessenger{}
	svc := New(Config{}, msgr, logx.Nop())
	svc.Start(context.Background())
	svc.Stop(context.Background())

	err := svc.Enqueue(transport.Notification{Target: transport.Target{UserID: 10}, Text: "late"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	msgr := &recordingMessenger{}
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1}, msgr, logx.Nop())
	// Not started: nothing drains the queue, so the second enqueue overflows.
	svc.mu.Lock()
	svc.queue = make(chan transport.Notification, 1)
	svc.accepting = true
	svc.mu.Unlock()

	if err := svc.Enqueue(transport.Notification{Text: "a"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := svc.Enqueue(transport.Notification{Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
}
