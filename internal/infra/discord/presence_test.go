package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestListeners(t *testing.T) {
	bots := map[string]bool{"music-bot": true}
	isBot := func(id string) bool { return bots[id] }

	states := []*discordgo.VoiceState{
		{UserID: "self", ChannelID: "c1"},
		{UserID: "music-bot", ChannelID: "c1"},
		{UserID: "other-bot", ChannelID: "c1", Member: &discordgo.Member{User: &discordgo.User{ID: "other-bot", Bot: true}}},
		{UserID: "alice", ChannelID: "c2"},
		nil,
	}

	assert.Equal(t, 0, listeners(states, "c1", "self", isBot))
	assert.Equal(t, 1, listeners(states, "c2", "self", isBot))

	states = append(states, &discordgo.VoiceState{UserID: "bob", ChannelID: "c1"})
	assert.Equal(t, 1, listeners(states, "c1", "self", isBot))
}
