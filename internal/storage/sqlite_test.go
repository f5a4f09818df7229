package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"signalbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertProfileCreatesUnsubscribed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertProfile(ctx, 42, "alice", "Alice"); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	sub, ok, err := st.GetSubscriber(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("GetSubscriber = %v, ok=%v", err, ok)
	}
	if sub.Subscribed {
		t.Fatal("new row should not be subscribed")
	}
	if sub.Username != "alice" || sub.FirstName != "Alice" {
		t.Fatalf("unexpected profile: %+v", sub)
	}
}

func TestUpsertProfilePreservesSubscription(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertProfile(ctx, 1, "old", "Old"); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := st.SetSubscribed(ctx, 1, true); err != nil {
		t.Fatalf("SetSubscribed: %v", err)
	}
	if err := st.UpsertProfile(ctx, 1, "new", "New"); err != nil {
		t.Fatalf("UpsertProfile again: %v", err)
	}

	sub, ok, err := st.GetSubscriber(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("GetSubscriber = %v, ok=%v", err, ok)
	}
	if !sub.Subscribed {
		t.Fatal("re-upsert must preserve the subscription flag")
	}
	if sub.Username != "new" || sub.FirstName != "New" {
		t.Fatalf("names not refreshed: %+v", sub)
	}
}

func TestSetSubscribedIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertProfile(ctx, 5, "", ""); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := st.SetSubscribed(ctx, 5, true); err != nil {
			t.Fatalf("SetSubscribed #%d: %v", i+1, err)
		}
	}
	sub, _, err := st.GetSubscriber(ctx, 5)
	if err != nil {
		t.Fatalf("GetSubscriber: %v", err)
	}
	if !sub.Subscribed {
		t.Fatal("expected subscribed")
	}
}

func TestSetSubscribedUnknownIDIsNoop(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetSubscribed(ctx, 404, true); err != nil {
		t.Fatalf("SetSubscribed unknown id: %v", err)
	}
	if _, ok, _ := st.GetSubscriber(ctx, 404); ok {
		t.Fatal("no row should have been created")
	}
}

func TestListSubscribedIDs(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := st.UpsertProfile(ctx, id, "", ""); err != nil {
			t.Fatalf("UpsertProfile %d: %v", id, err)
		}
	}
	for _, id := range []int64{1, 2} {
		if err := st.SetSubscribed(ctx, id, true); err != nil {
			t.Fatalf("SetSubscribed %d: %v", id, err)
		}
	}

	ids, err := st.ListSubscribedIDs(ctx)
	if err != nil {
		t.Fatalf("ListSubscribedIDs: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ListSubscribedIDs = %v, want [1 2]", ids)
	}

	n, err := st.CountSubscribed(ctx)
	if err != nil {
		t.Fatalf("CountSubscribed: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountSubscribed = %d, want 2", n)
	}
}

func TestUnsubscribeDropsFromList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertProfile(ctx, 9, "", ""); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := st.SetSubscribed(ctx, 9, true); err != nil {
		t.Fatalf("SetSubscribed: %v", err)
	}
	if err := st.SetSubscribed(ctx, 9, false); err != nil {
		t.Fatalf("SetSubscribed off: %v", err)
	}
	ids, err := st.ListSubscribedIDs(ctx)
	if err != nil {
		t.Fatalf("ListSubscribedIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty list, got %v", ids)
	}
}
