package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event from the chat platform, normalized so the
// dispatcher never touches platform SDK types.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
}

type Callback struct {
	ID            string
	FromID        int64
	FromUsername  string
	FromFirstName string
	ChatID        int64
	MessageID     int
	Data          string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// InlineButton is a platform-neutral callback button. Data is what comes
// back in Callback.Data when the button is pressed.
type InlineButton struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       [][]InlineButton
}

// Sender is the minimal outbound surface. Components that only push text
// (broadcast engine, log sink) depend on this, not on Adapter.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is the full platform boundary: it feeds inbound updates into a
// channel owned by the caller and exposes the outbound calls the bot uses.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
