package transport

import (
	"context"
	"time"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
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

// Notification is one outbound message handed to the notifier.
//
// Key is the idempotency key used for dedup. When empty, the notifier
// derives one from the target and text. DedupUntil, when set, replaces the
// notifier's dedup window for this key.
type Notification struct {
	Channel    string // "reminder" | "daily" | "notice"
	Priority   int    // 0 low.. 10 high
	Key        string
	Target     ChatTarget
	Title      string
	Text       string
	Options    *SendOptions
	DedupUntil time.Time
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Command is an incoming chat command such as "/upcoming".
type Command struct {
	Name     string // without the leading slash
	Args     string
	ChatID   int64
	ThreadID int
	FromID   int64
}

func (c Command) Reply() ChatTarget { return ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID} }

// Adapter is a Sender that can also receive commands.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Command) error
	Stop(ctx context.Context) error
}
