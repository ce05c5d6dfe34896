package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/CarlosFdez/SpueBox/internal/app/session"
)

const leaveTimeout = 10 * time.Second

// SessionFinder looks up the session connected to a voice channel.
type SessionFinder interface {
	FindByChannel(channelID string) (*session.Session, bool)
}

// LeaveWhenAlone returns a VoiceStateUpdate handler that disconnects a
// session once its channel has no listeners other than bots.
func LeaveWhenAlone(finder SessionFinder) func(*discordgo.Session, *discordgo.VoiceStateUpdate) {
	return func(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		if vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID == "" {
			return
		}
		left := vsu.BeforeUpdate.ChannelID
		if left == vsu.ChannelID {
			return
		}

		sess, ok := finder.FindByChannel(left)
		if !ok {
			return
		}

		guild, err := s.State.Guild(vsu.GuildID)
		if err != nil {
			zlog.Debug().Msgf("guild not cached: guild=%s error=%v", vsu.GuildID, err)
			return
		}
		selfID := ""
		if s.State.User != nil {
			selfID = s.State.User.ID
		}

		isBot := func(userID string) bool {
			m, err := s.State.Member(vsu.GuildID, userID)
			return err == nil && m.User != nil && m.User.Bot
		}
		if listeners(guild.VoiceStates, left, selfID, isBot) > 0 {
			return
		}

		zlog.Info().Msgf("leaving empty voice channel: guild=%s channel=%s", vsu.GuildID, left)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			defer cancel()
			if err := sess.Disconnect(ctx); err != nil {
				zlog.Warn().Msgf("failed to leave empty channel: guild=%s error=%v", vsu.GuildID, err)
			}
		}()
	}
}

// listeners counts the non-bot users in channelID.
func listeners(states []*discordgo.VoiceState, channelID, selfID string, isBot func(string) bool) int {
	return len(lo.Filter(states, func(vs *discordgo.VoiceState, _ int) bool {
		if vs == nil || vs.ChannelID != channelID || vs.UserID == selfID {
			return false
		}
		if vs.Member != nil && vs.Member.User != nil {
			return !vs.Member.User.Bot
		}
		return !isBot(vs.UserID)
	}))
}
