package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"signalbot/internal/broadcast"
	"signalbot/internal/storage"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

const adminID = 99

type sentMsg struct {
	chatID int64
	text   string
	opt    *transport.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	edits    []sentMsg
	answered []string
	failFor  map[int64]error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failFor: map[int64]error{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[chatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text, opt: opt})
	return transport.MessageRef{ChatID: chatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMsg{chatID: ref.ChatID, text: text, opt: opt})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, callbackID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAdapter, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ad := newFakeAdapter()
	engine := broadcast.New(st, ad, logx.Nop())
	return New(st, ad, engine, adminID, logx.Nop()), ad, st
}

func msg(from, chat int64, text string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID:            1,
			ChatID:        chat,
			FromID:        from,
			FromUsername:  "user",
			FromFirstName: "User",
			Text:          text,
		},
	}
}

func callback(from, chat int64, data string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateCallback,
		Callback: &transport.Callback{
			ID:        "cb1",
			FromID:    from,
			ChatID:    chat,
			MessageID: 10,
			Data:      data,
		},
	}
}

func subscribeUser(t *testing.T, st storage.Store, id int64) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertProfile(ctx, id, "", ""); err != nil {
		t.Fatalf("UpsertProfile %d: %v", id, err)
	}
	if err := st.SetSubscribed(ctx, id, true); err != nil {
		t.Fatalf("SetSubscribed %d: %v", id, err)
	}
}

func TestStartUpsertsProfileAndSendsMenu(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	ctx := context.Background()

	d.Handle(ctx, msg(7, 7, "/start"))

	sub, ok, err := st.GetSubscriber(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("row not created: err=%v ok=%v", err, ok)
	}
	if sub.Subscribed {
		t.Fatal("/start must not subscribe")
	}

	got := ad.sentTo(7)
	if len(got) != 1 {
		t.Fatalf("got %d replies, want 1", len(got))
	}
	if got[0].opt == nil || len(got[0].opt.Keyboard) != 3 {
		t.Fatalf("expected a 3-row inline menu, got %+v", got[0].opt)
	}
}

func TestStartTwicePreservesSubscription(t *testing.T) {
	t.Parallel()
	d, _, st := newTestDispatcher(t)
	ctx := context.Background()

	d.Handle(ctx, msg(7, 7, "/start"))
	subscribeUser(t, st, 7)
	d.Handle(ctx, msg(7, 7, "/start"))

	sub, _, err := st.GetSubscriber(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubscriber: %v", err)
	}
	if !sub.Subscribed {
		t.Fatal("second /start cleared the subscription flag")
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()
	d, ad, _ := newTestDispatcher(t)

	d.Handle(context.Background(), msg(7, 7, "/help"))

	got := ad.sentTo(7)
	if len(got) != 1 || !strings.Contains(got[0].text, "/adminbroadcast") {
		t.Fatalf("unexpected help reply: %+v", got)
	}
}

func TestAdminBroadcastDeniedForNonAdmin(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	subscribeUser(t, st, 1)
	subscribeUser(t, st, 2)

	d.Handle(context.Background(), msg(50, 50, "/adminbroadcast hello"))

	for _, id := range []int64{1, 2} {
		if n := len(ad.sentTo(id)); n != 0 {
			t.Fatalf("subscriber %d received %d messages from a denied broadcast", id, n)
		}
	}
	got := ad.sentTo(50)
	if len(got) != 1 || got[0].text != textAccessDenied {
		t.Fatalf("expected access-denied reply, got %+v", got)
	}
}

func TestAdminBroadcastEmptyTextShowsUsage(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	subscribeUser(t, st, 1)

	d.Handle(context.Background(), msg(adminID, adminID, "/adminbroadcast   "))

	if n := len(ad.sentTo(1)); n != 0 {
		t.Fatalf("empty broadcast must not send, got %d", n)
	}
	got := ad.sentTo(adminID)
	if len(got) != 1 || got[0].text != textBroadcastUsage {
		t.Fatalf("expected usage reply, got %+v", got)
	}
}

func TestAdminBroadcastReachesSubscribersAndReports(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	subscribeUser(t, st, 1)
	subscribeUser(t, st, 2)
	subscribeUser(t, st, 3)
	ad.failFor[2] = errors.New("deactivated account")

	d.Handle(context.Background(), msg(adminID, adminID, "/adminbroadcast hello subscribers"))

	for _, id := range []int64{1, 3} {
		got := ad.sentTo(id)
		if len(got) != 1 || !strings.Contains(got[0].text, "hello subscribers") {
			t.Fatalf("subscriber %d: got %+v", id, got)
		}
	}
	reply := ad.sentTo(adminID)
	if len(reply) != 1 || !strings.Contains(reply[0].text, "2/3") {
		t.Fatalf("expected completion report mentioning 2/3, got %+v", reply)
	}
}

func TestFreeTextForwardsToAdminAndAcks(t *testing.T) {
	t.Parallel()
	d, ad, _ := newTestDispatcher(t)

	d.Handle(context.Background(), msg(42, 42, "need help"))

	fwd := ad.sentTo(adminID)
	if len(fwd) != 1 || !strings.Contains(fwd[0].text, "42") || !strings.Contains(fwd[0].text, "need help") {
		t.Fatalf("expected forward with sender id and body, got %+v", fwd)
	}
	ack := ad.sentTo(42)
	if len(ack) != 1 || ack[0].text != textMessageAck {
		t.Fatalf("expected acknowledgment, got %+v", ack)
	}
}

func TestFreeTextAcksEvenWhenForwardFails(t *testing.T) {
	t.Parallel()
	d, ad, _ := newTestDispatcher(t)
	ad.failFor[adminID] = errors.New("network down")

	d.Handle(context.Background(), msg(42, 42, "need help"))

	ack := ad.sentTo(42)
	if len(ack) != 1 || ack[0].text != textMessageAck {
		t.Fatalf("forward failure must not suppress the ack, got %+v", ack)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	t.Parallel()
	d, ad, _ := newTestDispatcher(t)

	d.Handle(context.Background(), msg(7, 7, "/frobnicate"))

	if len(ad.sentTo(7)) != 0 || len(ad.sentTo(adminID)) != 0 {
		t.Fatalf("unknown command must be ignored, sent=%+v", ad.sent)
	}
}

func TestSubscribeCallbackSetsFlag(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	ctx := context.Background()
	if err := st.UpsertProfile(ctx, 7, "", ""); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	d.Handle(ctx, callback(7, 7, cbSubscribe))

	sub, _, err := st.GetSubscriber(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubscriber: %v", err)
	}
	if !sub.Subscribed {
		t.Fatal("subscribe callback did not set the flag")
	}
	if len(ad.answered) != 1 {
		t.Fatalf("callback not answered: %v", ad.answered)
	}
	if len(ad.edits) != 1 || ad.edits[0].text != textSubscribed {
		t.Fatalf("expected confirmation edit, got %+v", ad.edits)
	}
}

func TestStaticCallbacks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "signals", data: cbSignals, want: textSignalsInfo},
		{name: "contact admin", data: cbContactAdmin, want: textContactAdmin},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, ad, _ := newTestDispatcher(t)
			d.Handle(context.Background(), callback(7, 7, tt.data))
			if len(ad.edits) != 1 || ad.edits[0].text != tt.want {
				t.Fatalf("edits = %+v, want %q", ad.edits, tt.want)
			}
		})
	}
}

func TestStatsAdminOnly(t *testing.T) {
	t.Parallel()
	d, ad, st := newTestDispatcher(t)
	subscribeUser(t, st, 1)
	subscribeUser(t, st, 2)

	d.Handle(context.Background(), msg(adminID, adminID, "/stats"))
	got := ad.sentTo(adminID)
	if len(got) != 1 || !strings.Contains(got[0].text, "2") {
		t.Fatalf("expected stats reply with count 2, got %+v", got)
	}

	d.Handle(context.Background(), msg(50, 50, "/stats"))
	denied := ad.sentTo(50)
	if len(denied) != 1 || denied[0].text != textAccessDenied {
		t.Fatalf("expected access denied for non-admin, got %+v", denied)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	// nil engine makes the admin broadcast path panic; Handle must contain it.
	d := New(st, newFakeAdapter(), nil, adminID, logx.Nop())
	d.Handle(context.Background(), msg(adminID, adminID, "/adminbroadcast boom"))
}
