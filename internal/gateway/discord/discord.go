package discord

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/track"
)

const commandPrefix = "!"

// Gateway adapts Discord to the engine. Session keys use the guild ID as
// the channel id; the actual voice channel is whichever one the requesting
// user sat in when the command arrived.
type Gateway struct {
	token   string
	session *discordgo.Session

	mu           sync.Mutex
	voiceTargets map[string]string // guild -> voice channel of last requester
}

func New(token string) *Gateway {
	return &Gateway{token: token, voiceTargets: make(map[string]string)}
}

func (g *Gateway) Platform() track.Platform { return track.PlatformDiscord }

func (g *Gateway) Run(ctx context.Context, commands chan<- gateway.Command) error {
	dg, err := discordgo.New("Bot " + g.token)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord connected", "user", s.State.User.Username)
	})

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		if !strings.HasPrefix(m.Content, commandPrefix) {
			return
		}
		name, args, _ := strings.Cut(strings.TrimPrefix(m.Content, commandPrefix), " ")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}

		g.rememberVoiceTarget(s, m.GuildID, m.Author.ID)

		channelID := m.ChannelID
		cmd := gateway.Command{
			Platform:  track.PlatformDiscord,
			ChannelID: m.GuildID,
			UserID:    m.Author.ID,
			Name:      name,
			Args:      strings.TrimSpace(args),
			Reply: func(text string) {
				if _, err := s.ChannelMessageSend(channelID, text); err != nil {
					slog.Warn("discord reply failed", "err", err)
				}
			},
		}
		select {
		case commands <- cmd:
		case <-ctx.Done():
		}
	})

	if err := dg.Open(); err != nil {
		return err
	}
	g.mu.Lock()
	g.session = dg
	g.mu.Unlock()

	<-ctx.Done()
	return dg.Close()
}

func (g *Gateway) rememberVoiceTarget(s *discordgo.Session, guildID, userID string) {
	guild, _ := s.State.Guild(guildID)
	if guild == nil {
		return
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			g.mu.Lock()
			g.voiceTargets[guildID] = vs.ChannelID
			g.mu.Unlock()
			return
		}
	}
}

func (g *Gateway) Join(ctx context.Context, guildID string) (gateway.VoiceConn, error) {
	g.mu.Lock()
	s := g.session
	target := g.voiceTargets[guildID]
	g.mu.Unlock()

	if s == nil {
		return nil, errors.New("discord session not ready")
	}
	if target == "" {
		return nil, errors.New("requester is not in a voice channel")
	}

	vc, err := s.ChannelVoiceJoin(guildID, target, false, true)
	if err != nil {
		return nil, err
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	return &voiceConn{vc: vc, guildID: guildID}, nil
}

func (g *Gateway) HasListeners(guildID string) bool {
	g.mu.Lock()
	s := g.session
	target := g.voiceTargets[guildID]
	g.mu.Unlock()
	if s == nil || target == "" {
		return false
	}

	guild, _ := s.State.Guild(guildID)
	if guild == nil {
		return false
	}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != target {
			continue
		}
		m, _ := s.State.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			return true
		}
	}
	return false
}

type voiceConn struct {
	vc       *discordgo.VoiceConnection
	guildID  string
	speaking bool
	mu       sync.Mutex
}

func (c *voiceConn) WriteOpus(ctx context.Context, pkt []byte) error {
	c.mu.Lock()
	if !c.speaking {
		if err := c.vc.Speaking(true); err == nil {
			c.speaking = true
		}
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.vc.OpusSend <- pkt:
		return nil
	case <-time.After(time.Second):
		return errors.New("opus send timeout")
	}
}

func (c *voiceConn) Close() error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r, "guildID", c.guildID)
		}
	}()

	if c.vc.OpusSend == nil {
		c.vc.OpusSend = make(chan []byte, 2)
	}
	_ = c.vc.Speaking(false)

	return c.vc.Disconnect()
}
