package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/CarlosFdez/SpueBox/internal/app/notification"
)

const (
	colorNowPlaying = 0x1db954
	colorFailure    = 0xe03e3e
)

// embedPoster is implemented by *discordgo.Session.
type embedPoster interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sender posts notifications as embeds to the request's text channel.
type Sender struct {
	poster         embedPoster
	defaultChannel string
}

// NewSender returns a sink that falls back to defaultChannel for requests
// without a reply channel.
func NewSender(poster embedPoster, defaultChannel string) *Sender {
	return &Sender{poster: poster, defaultChannel: defaultChannel}
}

// Send implements notification.Sink.
func (s *Sender) Send(ctx context.Context, n *notification.Notification) error {
	channel := n.ChannelID
	if channel == "" {
		channel = s.defaultChannel
	}
	if channel == "" {
		return nil
	}

	_, err := s.poster.ChannelMessageSendEmbed(channel, buildEmbed(n), discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "failed to post %s to channel %s", n.Kind, channel)
	}
	return nil
}

func buildEmbed(n *notification.Notification) *discordgo.MessageEmbed {
	req := n.Request
	if n.Kind == notification.KindFailure {
		return &discordgo.MessageEmbed{
			Description: n.Message(),
			Color:       colorFailure,
		}
	}

	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{Name: "Now playing"},
		Title:  req.Song.DisplayTitle(),
		URL:    req.Song.URL,
		Color:  colorNowPlaying,
	}
	if req.Song.Uploader != "" {
		embed.Description = req.Song.Uploader
	}
	if req.Requester.Name != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Requested by",
			Value:  req.Requester.Name,
			Inline: true,
		})
	}
	if d := req.Song.Duration; d > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Length",
			Value:  d.String(),
			Inline: true,
		})
	}
	if n.NowPlaying != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: n.NowPlaying.Footer()}
	}
	return embed
}
