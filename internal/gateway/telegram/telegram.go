package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/track"
)

// Gateway adapts Telegram to the engine. Commands arrive over long polling;
// the chat ID doubles as the session channel key.
type Gateway struct {
	token string
	bot   *tgbotapi.BotAPI
}

func New(token string) *Gateway {
	return &Gateway{token: token}
}

func (g *Gateway) Platform() track.Platform { return track.PlatformTelegram }

func (g *Gateway) Run(ctx context.Context, commands chan<- gateway.Command) error {
	bot, err := tgbotapi.NewBotAPI(g.token)
	if err != nil {
		return err
	}
	g.bot = bot
	slog.Info("telegram connected", "user", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil || !upd.Message.IsCommand() || upd.Message.From == nil {
				continue
			}
			msg := upd.Message
			chatID := msg.Chat.ID
			cmd := gateway.Command{
				Platform:  track.PlatformTelegram,
				ChannelID: strconv.FormatInt(chatID, 10),
				UserID:    strconv.FormatInt(msg.From.ID, 10),
				Name:      strings.ToLower(msg.Command()),
				Args:      strings.TrimSpace(msg.CommandArguments()),
				Reply: func(text string) {
					if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
						slog.Warn("telegram reply failed", "err", err)
					}
				},
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				bot.StopReceivingUpdates()
				return nil
			}
		}
	}
}

// Join hands back a sink connection. Telegram group voice chats speak MTProto,
// which the Bot API cannot reach, so playback runs the full decode/encode
// pipeline but drops the packets. Queue state, history and replies still work.
func (g *Gateway) Join(ctx context.Context, chatID string) (gateway.VoiceConn, error) {
	return &sinkConn{opened: time.Now(), chatID: chatID}, nil
}

// HasListeners always reports true: the Bot API exposes no member presence
// for voice chats, and sweeping sessions for an unobservable room would tear
// down queues people are still using.
func (g *Gateway) HasListeners(chatID string) bool { return true }

type sinkConn struct {
	opened time.Time
	chatID string
}

func (c *sinkConn) WriteOpus(ctx context.Context, pkt []byte) error {
	return ctx.Err()
}

func (c *sinkConn) Close() error {
	slog.Debug("telegram voice sink closed", "chat", c.chatID, "open_for", time.Since(c.opened))
	return nil
}
