package discord

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"gilded/internal/bot"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestToMessagePrefersGlobalName(t *testing.T) {
	msg := toMessage(&discordgo.Message{
		ChannelID: "c1",
		Content:   "!balance",
		Author:    &discordgo.User{ID: "42", Username: "vex_ahlia", GlobalName: "Vex"},
	})
	assert.Equal(t, "c1", msg.ChannelID)
	assert.Equal(t, "42", msg.AuthorID)
	assert.Equal(t, "Vex", msg.AuthorName)
	assert.False(t, msg.FromBot)
}

func TestToMessageFallsBackToUsername(t *testing.T) {
	msg := toMessage(&discordgo.Message{
		Author: &discordgo.User{ID: "7", Username: "dungeonbot", Bot: true},
	})
	assert.Equal(t, "dungeonbot", msg.AuthorName)
	assert.True(t, msg.FromBot)
}

func TestSendSkipsRepliesWithoutChannel(t *testing.T) {
	b, err := New("test-token", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, err)
	// No channel means no REST call, so this returns without a live gateway.
	b.Send(context.Background(), []bot.Reply{{Content: "A new session has started!"}})
}
