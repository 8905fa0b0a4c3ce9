// Package discord connects the command router to a Discord gateway session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gilded/internal/bot"

	"github.com/bwmarrin/discordgo"
)

const handleTimeout = 15 * time.Second

// Handler is satisfied by *bot.Router.
type Handler interface {
	Handle(ctx context.Context, msg bot.Message) []bot.Reply
}

type Bot struct {
	session *discordgo.Session
	handler Handler
	log     *slog.Logger
	ctx     context.Context
}

func New(token string, handler Handler, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Bot{session: session, handler: handler, log: logger, ctx: context.Background()}, nil
}

// Run opens the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	b.session.AddHandler(b.onMessage)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	<-ctx.Done()
	if err := b.session.Close(); err != nil {
		b.log.Warn("discord close failed", "err", err)
	}
	return nil
}

func (b *Bot) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, handleTimeout)
	defer cancel()

	b.Send(ctx, b.handler.Handle(ctx, toMessage(m.Message)))
}

// Send posts replies in order. Replies without a channel are logged and
// skipped.
func (b *Bot) Send(ctx context.Context, replies []bot.Reply) {
	for _, r := range replies {
		if r.ChannelID == "" {
			b.log.Warn("discord reply has no channel, dropped", "content_len", len(r.Content))
			continue
		}
		if _, err := b.session.ChannelMessageSend(r.ChannelID, r.Content, discordgo.WithContext(ctx)); err != nil {
			b.log.Error("discord send failed", "channel_id", r.ChannelID, "err", err)
		}
	}
}

func toMessage(m *discordgo.Message) bot.Message {
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return bot.Message{
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: name,
		Content:    m.Content,
		FromBot:    m.Author.Bot,
	}
}
