package console

import (
	"context"
	"testing"

	"pawremind/internal/transport"
	logx "pawremind/pkg/logx"
)

func TestSenderRecordsMessages(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())
	to := transport.ChatTarget{ChatID: 42}
	r1, err := s.SendText(context.Background(), to, "one", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	r2, _ := s.SendText(context.Background(), to, "two", nil)
	if r1.ChatID != 42 || r2.MessageID != r1.MessageID+1 {
		t.Fatalf("refs = %+v, %+v", r1, r2)
	}
	if got := s.Sent(); len(got) != 2 || got[1] != "two" {
		t.Fatalf("Sent() = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SendText(ctx, to, "three", nil); err == nil {
		t.Fatal("SendText with canceled context should fail")
	}
}
