package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

type stubLister struct {
	ids []int64
	err error
}

func (s stubLister) ListSubscribedIDs(context.Context) ([]int64, error) {
	return s.ids, s.err
}

type recordingSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[int64][]string{}, failFor: map[int64]error{}}
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[chatID]; err != nil {
		return transport.MessageRef{}, err
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return transport.MessageRef{ChatID: chatID, MessageID: len(r.sent[chatID])}, nil
}

func (r *recordingSender) count(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[chatID])
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	e := New(stubLister{ids: []int64{1, 2, 3}}, sender, logx.Nop())

	rep, err := e.Broadcast(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if rep.Total != 3 || rep.Sent != 3 || rep.Failed != 0 {
		t.Fatalf("Report = %+v, want 3/3/0", rep)
	}
	for _, id := range []int64{1, 2, 3} {
		if got := sender.count(id); got != 1 {
			t.Fatalf("user %d received %d messages, want 1", id, got)
		}
	}
}

func TestBroadcastToleratesPerRecipientFailure(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	sender.failFor[2] = errors.New("bot was blocked by the user")
	e := New(stubLister{ids: []int64{1, 2, 3}}, sender, logx.Nop())

	rep, err := e.Broadcast(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Broadcast must not fail on send errors: %v", err)
	}
	if rep.Total != 3 || rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("Report = %+v, want total=3 sent=2 failed=1", rep)
	}
	if sender.count(1) != 1 || sender.count(3) != 1 {
		t.Fatal("remaining recipients must still be attempted")
	}
}

func TestBroadcastListError(t *testing.T) {
	t.Parallel()
	e := New(stubLister{err: errors.New("db gone")}, newRecordingSender(), logx.Nop())
	if _, err := e.Broadcast(context.Background(), "x"); err == nil {
		t.Fatal("expected error when the subscriber list cannot be read")
	}
}

func TestConcurrentBroadcastsBothDeliver(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	e := New(stubLister{ids: []int64{7, 8}}, sender, logx.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Broadcast(context.Background(), "tick"); err != nil {
				t.Errorf("Broadcast: %v", err)
			}
		}()
	}
	wg.Wait()

	// No deduplication between independent broadcasts: each recipient gets
	// one message per run.
	for _, id := range []int64{7, 8} {
		if got := sender.count(id); got != 2 {
			t.Fatalf("user %d received %d messages, want 2", id, got)
		}
	}
	if e.InFlight() != 0 {
		t.Fatalf("InFlight = %d after completion, want 0", e.InFlight())
	}
}
