// Package discord connects sessions to Discord voice channels and posts
// announcements to text channels.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Bot owns the Discord gateway connection.
type Bot struct {
	session *discordgo.Session
}

// Open creates a gateway session with the intents needed for voice
// playback and connects it.
func Open(token string) (*Bot, error) {
	bridgeLogger()

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		zlog.Info().Msgf("discord ready: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	})

	if err := s.Open(); err != nil {
		return nil, errors.Wrap(err, "failed to open discord session")
	}
	return &Bot{session: s}, nil
}

// Session returns the underlying gateway session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

// bridgeLogger routes discordgo's internal logging through zerolog.
func bridgeLogger() {
	discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogError:
			zlog.Error().Msgf("discordgo: %s", msg)
		case discordgo.LogWarning:
			zlog.Warn().Msgf("discordgo: %s", msg)
		case discordgo.LogInformational:
			zlog.Debug().Msgf("discordgo: %s", msg)
		default:
			zlog.Trace().Msgf("discordgo: %s", msg)
		}
	}
}
