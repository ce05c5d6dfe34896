package playback

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Concrete errors are marked with one of these and can be
// tested with errors.Is.
var (
	ErrResolution      = errors.New("resolution error")
	ErrConnection      = errors.New("connection error")
	ErrPlayback        = errors.New("playback error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotConnected    = errors.New("not connected to a voice channel")
)

// ResolutionError reports that lookup could not be turned into playable songs.
func ResolutionError(cause error, lookup string) error {
	return errors.Mark(errors.Wrapf(cause, "could not resolve %q", lookup), ErrResolution)
}

// ConnectionError reports a failed connect or move to channelID.
func ConnectionError(cause error, channelID string) error {
	return errors.Mark(errors.Wrapf(cause, "could not connect to channel %s", channelID), ErrConnection)
}

// PlaybackError reports that a single song failed while streaming.
func PlaybackError(cause error, title string) error {
	return errors.Mark(errors.Wrapf(cause, "could not play %s", title), ErrPlayback)
}

// InvalidArgument reports an out-of-range argument.
func InvalidArgument(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}
