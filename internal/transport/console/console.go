// Package console is a transport.Sender that writes messages to the log.
// It is used when no bot token is configured.
package console

import (
	"context"
	"sync"
	"sync/atomic"

	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

type Sender struct {
	log  logx.Logger
	next atomic.Int64

	mu   sync.Mutex
	sent []string
}

func New(log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{log: log}
}

func (s *Sender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	id := int(s.next.Add(1))
	s.log.Info("message", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID), logx.String("text", text))

	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

// Sent returns the texts written so far.
func (s *Sender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
