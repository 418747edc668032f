package transport

import "context"

// Update is one inbound chat event handed from an adapter to the dispatcher.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	// Text has hidden-text entities re-rendered as <tg-spoiler>...</tg-spoiler>
	// so signal extraction sees the markup the leader typed.
	Text    string
	IsGroup bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one queued outbound message.
type Notification struct {
	Target  ChatTarget
	Text    string
	Options *SendOptions
	// Kind labels the message for events and metrics ("signal", "reply", ...).
	Kind string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
