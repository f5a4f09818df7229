// Package telegram adapts the telebot SDK to the transport kit.
//
// The adapter owns the inbound side (webhook server or long polling, both
// provided by telebot) and converts SDK updates into transport.Update values
// pushed onto the caller's channel. Pushes never block: if the dispatcher
// falls behind, updates are dropped and the drop count reported periodically.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"signalbot/internal/runtime/supervisor"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

type Config struct {
	Token string

	// PublicURL is the full public webhook URL registered with Telegram.
	// Empty switches the adapter to long polling (local runs, tests).
	PublicURL  string
	ListenAddr string

	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- transport.Update)

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var poller tele.Poller
	if strings.TrimSpace(cfg.PublicURL) != "" {
		poller = &tele.Webhook{
			Listen:   cfg.ListenAddr,
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.PublicURL},
		}
	} else {
		timeout := cfg.PollTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		poller = &tele.LongPoller{Timeout: timeout}
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: poller,
		OnError: func(err error, _ tele.Context) {
			log.Error("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}

	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.push(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:            m.ID,
				ChatID:        m.Chat.ID,
				FromID:        m.Sender.ID,
				FromUsername:  m.Sender.Username,
				FromFirstName: m.Sender.FirstName,
				Text:          m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || cb.Sender == nil || m == nil || m.Chat == nil {
			return nil
		}
		// telebot splits "\f<unique>|<payload>" into Unique/Data; buttons
		// built by this adapter carry their payload in Unique.
		data := cb.Unique
		if data == "" {
			data = strings.TrimPrefix(cb.Data, "\f")
		}
		a.push(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:            cb.ID,
				FromID:        cb.Sender.ID,
				FromUsername:  cb.Sender.Username,
				FromFirstName: cb.Sender.FirstName,
				ChatID:        m.Chat.ID,
				MessageID:     m.ID,
				Data:          data,
			},
		})
		return nil
	})
}

func (a *Adapter) push(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary instead of per-update drop spam.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)",
					logx.Any("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Start() blocks until Stop(); in some failure modes it can return early,
	// so run it under a restart loop.
	sup.GoRestart0("telebot.run", func(c context.Context) {
		if a.cfg.PublicURL != "" {
			a.log.Info("webhook serving", logx.String("listen", a.cfg.ListenAddr), logx.String("url", a.cfg.PublicURL))
		} else {
			a.log.Info("polling started")
		}
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("update loop stopped")
	}, 500*time.Millisecond, 10*time.Second)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Keep shutdown snappy even if a long-poll request is still in flight.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if sup != nil {
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop error", logx.Err(err))
		}
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if a.bot == nil {
		return transport.MessageRef{}, errors.New("adapter not initialized")
	}
	var ref transport.MessageRef
	chunks := SplitText(text, textLimit)
	for i, chunk := range chunks {
		var args []interface{}
		// Keyboard goes on the last chunk only.
		if o := teleOptions(opt, i == len(chunks)-1); o != nil {
			args = append(args, o)
		}
		msg, err := a.bot.Send(&tele.Chat{ID: chatID}, chunk, args...)
		if err != nil {
			return transport.MessageRef{}, err
		}
		ref = transport.MessageRef{ChatID: chatID, MessageID: msg.ID}
	}
	return ref, nil
}

func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if a.bot == nil {
		return errors.New("adapter not initialized")
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	var args []interface{}
	if o := teleOptions(opt, true); o != nil {
		args = append(args, o)
	}
	_, err := a.bot.Edit(m, text, args...)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if a.bot == nil {
		return errors.New("adapter not initialized")
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func teleOptions(opt *transport.SendOptions, withKeyboard bool) *tele.SendOptions {
	if opt == nil {
		return nil
	}
	o := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if withKeyboard && len(opt.Keyboard) > 0 {
		rows := make([][]tele.InlineButton, 0, len(opt.Keyboard))
		for _, r := range opt.Keyboard {
			row := make([]tele.InlineButton, 0, len(r))
			for _, b := range r {
				row = append(row, tele.InlineButton{Unique: b.Data, Text: b.Text})
			}
			rows = append(rows, row)
		}
		o.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return o
}

const textLimit = 4000

// SplitText chunks a message so every piece fits Telegram's size limit,
// preferring newline boundaries.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
