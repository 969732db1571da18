package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"hostpulse/pkg/logx"
)

type fakeBot struct {
	sent    []string
	chats   []int64
	threads []int
	err     error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, what.(string))
	f.chats = append(f.chats, to.(*tele.Chat).ID)
	if len(opts) > 0 {
		if so, ok := opts[0].(*tele.SendOptions); ok {
			f.threads = append(f.threads, so.ThreadID)
		}
	}
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err=%v want ErrNoToken", err)
	}
}

func TestSendTextUsesDefaultChatAndThread(t *testing.T) {
	t.Parallel()
	fb := &fakeBot{}
	c := newClient(Config{ChatID: 42}, fb, logx.Nop())
	if err := c.SendText(context.Background(), 0, 7, "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(fb.sent) != 1 || fb.chats[0] != 42 || fb.threads[0] != 7 {
		t.Fatalf("unexpected send: %+v", fb)
	}
}

func TestSendTextWithoutChatFails(t *testing.T) {
	t.Parallel()
	c := newClient(Config{}, &fakeBot{}, logx.Nop())
	if err := c.SendText(context.Background(), 0, 0, "x"); err == nil {
		t.Fatalf("expected error without chat id")
	}
}

func TestSendTextPropagatesBotError(t *testing.T) {
	t.Parallel()
	boom := errors.New("flood")
	c := newClient(Config{ChatID: 1}, &fakeBot{err: boom}, logx.Nop())
	if err := c.SendText(context.Background(), 0, 0, "x"); !errors.Is(err, boom) {
		t.Fatalf("err=%v want flood", err)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short=%q", got)
	}

	line := strings.Repeat("a", 6) + "\n"
	s := strings.Repeat(line, 5) // 35 runes
	chunks := splitText(s, 16)
	if strings.Join(chunks, "") != s {
		t.Fatalf("chunks do not reassemble")
	}
	for _, c := range chunks {
		if len([]rune(c)) > 16 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Fatalf("first chunk should end on a newline: %q", chunks[0])
	}

	flat := strings.Repeat("x", 25)
	if got := splitText(flat, 10); len(got) != 3 || got[2] != "xxxxx" {
		t.Fatalf("flat=%q", got)
	}
}
