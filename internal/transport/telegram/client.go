// Package telegram is a send-only Telegram client. The service never polls for updates; it only
// pushes log lines and alerts to a configured chat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"hostpulse/pkg/logx"
)

const textLimit = 4000

var ErrNoToken = errors.New("telegram token is empty")

type Config struct {
	Token   string
	ChatID  int64
	Timeout time.Duration
}

// botAPI is the slice of *tele.Bot the client uses.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Client struct {
	cfg Config
	log logx.Logger
	bot botAPI
}

// New builds an offline bot: no getMe round-trip and no poller.
func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  newHTTPClient(cfg.Timeout),
	})
	if err != nil {
		return nil, err
	}
	return newClient(cfg, b, log), nil
}

func newClient(cfg Config, bot botAPI, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, bot: bot, log: log}
}

// DefaultChat is the chat used when callers pass chatID 0.
func (c *Client) DefaultChat() int64 { return c.cfg.ChatID }

// SendText delivers text to chatID (or the default chat), split into chunks Telegram accepts.
func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	if chatID == 0 {
		chatID = c.cfg.ChatID
	}
	if chatID == 0 {
		return errors.New("telegram chat id is not configured")
	}
	chat := &tele.Chat{ID: chatID}
	opts := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
	for _, chunk := range splitText(text, textLimit) {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := c.bot.Send(chat, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into rune chunks of at most limit, preferring a newline in the last two
// thirds of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}
