package playback

import (
	"fmt"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// NowPlaying is the announcement sent when a request starts playing.
type NowPlaying struct {
	GuildID   string
	Request   song.Request
	Mode      Mode
	Volume    int
	QueueLoop bool
}

// Footer renders the "Mode | Volume" status line.
func (n NowPlaying) Footer() string {
	footer := fmt.Sprintf("Mode: %s | Volume: %d", n.Mode, n.Volume)
	if n.QueueLoop {
		footer += " | Loop"
	}
	if n.Request.Loop {
		footer += " | Repeat"
	}
	return footer
}
