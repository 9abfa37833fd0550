package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is a platform-neutral inbound event: a command message from a chat,
// or a callback from an inline keyboard (currency selection).
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	ChatID    int64
	FromID    int64
	MessageID int
	Data      string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// InlineKeyboard is a platform-neutral callback-button grid; buttons
	// produce Callback updates carrying Data.
	InlineKeyboard [][]InlineButton
	// ReplyMarkupAdapter is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	// InlineKeyboard wins when both are set.
	ReplyMarkupAdapter any
}

type InlineButton struct {
	Text string
	Data string
}

// Target addresses an outbound notification: a direct message when UserID is
// set, a channel post otherwise.
type Target struct {
	UserID    int64
	ChannelID int64
}

type Notification struct {
	Target  Target
	Text    string
	Options *SendOptions
}

// Messenger is the narrow interface the core uses to talk to the chat
// platform. DeleteMessage is best-effort; callers log and ignore failures.
type Messenger interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendUser(ctx context.Context, userID int64, text string, opt *SendOptions) error
	SendChannel(ctx context.Context, channelID int64, text string, opt *SendOptions) (messageID int, err error)
	DeleteMessage(ctx context.Context, channelID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
