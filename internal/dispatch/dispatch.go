// Package dispatch routes inbound updates to their handlers.
//
// One update is processed at a time: the dispatcher owns a single loop over
// the adapter's update channel. Handler errors and panics are logged and
// never stop the loop.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"signalbot/internal/broadcast"
	"signalbot/internal/storage"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

type Dispatcher struct {
	store   storage.Store
	adapter transport.Adapter
	engine  *broadcast.Engine
	adminID int64
	log     logx.Logger
}

func New(store storage.Store, adapter transport.Adapter, engine *broadcast.Engine, adminID int64, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:   store,
		adapter: adapter,
		engine:  engine,
		adminID: adminID,
		log:     log,
	}
}

// Run consumes updates until ctx is done or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			d.Handle(ctx, up)
		}
	}
}

// Handle processes a single update with top-level recovery.
func (d *Dispatcher) Handle(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while handling update",
				logx.Any("panic", r),
				logx.String("kind", string(up.Kind)),
				logx.Stack(logx.StackTrace(3, 16)))
		}
	}()

	var err error
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			err = d.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			err = d.handleCallback(ctx, up.Callback)
		}
	default:
		d.log.Debug("unhandled update kind", logx.String("kind", string(up.Kind)))
	}
	if err != nil {
		d.log.Error("update handler failed", logx.String("kind", string(up.Kind)), logx.Err(err))
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *transport.Message) error {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return d.forwardToAdmin(ctx, m)
	}

	fields := strings.Fields(text)
	// Strip an @BotName suffix so group-style invocations still route.
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch cmd {
	case "/start":
		return d.cmdStart(ctx, m)
	case "/help":
		return d.reply(ctx, m.ChatID, textHelp, nil)
	case "/adminbroadcast":
		return d.cmdAdminBroadcast(ctx, m, args)
	case "/stats":
		return d.cmdStats(ctx, m)
	default:
		d.log.Debug("unknown command ignored", logx.String("cmd", cmd), logx.Int64("user", m.FromID))
		return nil
	}
}

func (d *Dispatcher) cmdStart(ctx context.Context, m *transport.Message) error {
	if err := d.store.UpsertProfile(ctx, m.FromID, m.FromUsername, m.FromFirstName); err != nil {
		return err
	}
	menu := [][]transport.InlineButton{
		{{Text: btnSignals, Data: cbSignals}},
		{{Text: btnSubscribe, Data: cbSubscribe}},
		{{Text: btnContactAdmin, Data: cbContactAdmin}},
	}
	return d.reply(ctx, m.ChatID, textWelcome, &transport.SendOptions{Keyboard: menu})
}

func (d *Dispatcher) cmdAdminBroadcast(ctx context.Context, m *transport.Message, args string) error {
	if m.FromID != d.adminID || d.adminID == 0 {
		return d.reply(ctx, m.ChatID, textAccessDenied, nil)
	}
	if args == "" {
		return d.reply(ctx, m.ChatID, textBroadcastUsage, nil)
	}

	rep, err := d.engine.Broadcast(ctx, args)
	if err != nil {
		return fmt.Errorf("admin broadcast: %w", err)
	}
	return d.reply(ctx, m.ChatID, "✅ Broadcast finished: "+rep.String(), nil)
}

func (d *Dispatcher) cmdStats(ctx context.Context, m *transport.Message) error {
	if m.FromID != d.adminID || d.adminID == 0 {
		return d.reply(ctx, m.ChatID, textAccessDenied, nil)
	}
	n, err := d.store.CountSubscribed(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return d.reply(ctx, m.ChatID, fmt.Sprintf("Subscribed users: %d", n), nil)
}

// forwardToAdmin relays a free-text message to the admin chat. Forward
// failures are logged and swallowed; the sender always gets an
// acknowledgment.
func (d *Dispatcher) forwardToAdmin(ctx context.Context, m *transport.Message) error {
	if d.adminID != 0 {
		fwd := fmt.Sprintf("Message from %d: %s", m.FromID, m.Text)
		if _, err := d.adapter.SendText(ctx, d.adminID, fwd, nil); err != nil {
			d.log.Warn("forward to admin failed", logx.Int64("user", m.FromID), logx.Err(err))
		}
	}
	return d.reply(ctx, m.ChatID, textMessageAck, nil)
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *transport.Callback) error {
	// Always answer so the client clears the button spinner.
	if err := d.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		d.log.Debug("answer callback failed", logx.Err(err))
	}

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	switch cb.Data {
	case cbSignals:
		return d.edit(ctx, ref, textSignalsInfo)
	case cbSubscribe:
		if err := d.store.SetSubscribed(ctx, cb.FromID, true); err != nil {
			return err
		}
		return d.edit(ctx, ref, textSubscribed)
	case cbContactAdmin:
		return d.edit(ctx, ref, textContactAdmin)
	default:
		d.log.Debug("unknown callback", logx.String("data", cb.Data))
		return nil
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	_, err := d.adapter.SendText(ctx, chatID, text, opt)
	if err != nil {
		return fmt.Errorf("reply to %d: %w", chatID, err)
	}
	return nil
}

func (d *Dispatcher) edit(ctx context.Context, ref transport.MessageRef, text string) error {
	if err := d.adapter.EditText(ctx, ref, text, nil); err != nil {
		return fmt.Errorf("edit message %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}
