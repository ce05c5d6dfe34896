// Package console is a line-oriented operator driver for one guild's
// session. Each input line is parsed as a kingpin command line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/app/session"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// listLimit is how many queue entries `list` prints.
const listLimit = 10

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Resolver turns lookups into songs.
type Resolver interface {
	ResolveOne(ctx context.Context, lookup string) (song.Song, error)
	ResolveMany(ctx context.Context, lookup string) ([]song.Song, error)
}

// Sessions hands out the session of a guild.
type Sessions interface {
	GetOrCreate(guildID string) (*session.Session, bool)
}

// Config represents console configuration.
type Config struct {
	GuildID   string
	ReplyTo   string         // Channel announcements for console requests go to
	Requester song.Requester // Who console requests are attributed to
}

// Console executes operator commands against a guild's session.
type Console struct {
	cfg      Config
	sessions Sessions
	resolver Resolver
	out      io.Writer
}

// New creates a console writing replies to out.
func New(cfg Config, sessions Sessions, resolver Resolver, out io.Writer) *Console {
	if cfg.Requester.Name == "" {
		cfg.Requester = song.Requester{ID: "console", Name: "console"}
	}
	return &Console{cfg: cfg, sessions: sessions, resolver: resolver, out: out}
}

// Run executes lines from in until EOF, quit, or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "failed to read console input")
				default:
					return nil
				}
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// command holds the values bound by one parse.
type command struct {
	app *kingpin.Application

	connect, disconnect, play, loop, playlist *kingpin.CmdClause
	skip, stop, resume, volume, mode          *kingpin.CmdClause
	shuffle, loopQueue, list, count, status   *kingpin.CmdClause
	quit                                      *kingpin.CmdClause

	channel         *string
	lookup          *[]string
	playlistLookup  *[]string
	loopLookup      *[]string
	playlistShuffle *bool
	playlistLoop    *bool
	volumeValue     *int
	modeValue       *string
	loopQueueValue  *string
}

// newCommand builds a fresh parser; kingpin values are bound per parse.
func newCommand(out io.Writer) *command {
	app := kingpin.New("", "SpueBox console")
	app.UsageWriter(out)
	app.ErrorWriter(out)
	app.Terminate(func(int) {})

	c := &command{app: app}

	c.connect = app.Command("connect", "Join a voice channel")
	c.channel = c.connect.Arg("channel", "Voice channel ID").Required().String()
	c.disconnect = app.Command("disconnect", "Leave the voice channel")

	c.play = app.Command("play", "Queue a song")
	c.lookup = c.play.Arg("lookup", "URL or search text").Required().Strings()
	c.loop = app.Command("loop", "Queue a song that repeats until skipped")
	c.loopLookup = c.loop.Arg("lookup", "URL or search text").Required().Strings()
	c.playlist = app.Command("playlist", "Queue every song of a playlist")
	c.playlistShuffle = c.playlist.Flag("shuffle", "Shuffle the playlist").Bool()
	c.playlistLoop = c.playlist.Flag("loop", "Loop the whole queue").Bool()
	c.playlistLookup = c.playlist.Arg("lookup", "Playlist URL").Required().Strings()

	c.skip = app.Command("skip", "Skip the current song")
	c.stop = app.Command("stop", "Stop playback and keep the queue")
	c.resume = app.Command("resume", "Resume playback of the queue")

	c.volume = app.Command("volume", "Show or set the volume")
	c.volumeValue = c.volume.Arg("percent", "Volume between 0 and 150").Default("-1").Int()
	c.mode = app.Command("mode", "Show or set the play mode")
	c.modeValue = c.mode.Arg("mode", "linear or single").Enum("linear", "single")
	c.shuffle = app.Command("shuffle", "Shuffle what is pending")
	c.loopQueue = app.Command("loopqueue", "Loop the whole queue")
	c.loopQueueValue = c.loopQueue.Arg("enabled", "on or off").Required().Enum("on", "off")

	c.list = app.Command("list", "List the queue")
	c.count = app.Command("count", "Count the queue")
	c.status = app.Command("status", "Show the session status")
	c.quit = app.Command("quit", "Exit").Alias("exit")
	return c
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	cmd := newCommand(c.out)
	selected, err := cmd.app.Parse(args)
	if err != nil {
		return err
	}
	if selected == "" {
		return nil
	}

	zlog.Debug().Msgf("console command: guild=%s command=%s", c.cfg.GuildID, selected)
	s, _ := c.sessions.GetOrCreate(c.cfg.GuildID)

	switch selected {
	case cmd.connect.FullCommand():
		if err := s.Connect(ctx, *cmd.channel); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Connected to %s\n", *cmd.channel)

	case cmd.disconnect.FullCommand():
		if err := s.Disconnect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Disconnected")

	case cmd.play.FullCommand():
		return c.requestSong(ctx, s, strings.Join(*cmd.lookup, " "), false)

	case cmd.loop.FullCommand():
		return c.requestSong(ctx, s, strings.Join(*cmd.loopLookup, " "), true)

	case cmd.playlist.FullCommand():
		lookup := strings.Join(*cmd.playlistLookup, " ")
		songs, err := c.resolver.ResolveMany(ctx, lookup)
		if err != nil {
			return err
		}
		reqs := s.RequestPlaylist(songs, c.cfg.Requester, c.cfg.ReplyTo, *cmd.playlistLoop, *cmd.playlistShuffle)
		fmt.Fprintf(c.out, "Queued %d songs\n", len(reqs))

	case cmd.skip.FullCommand():
		s.Skip()

	case cmd.stop.FullCommand():
		s.Stop()

	case cmd.resume.FullCommand():
		return s.Resume()

	case cmd.volume.FullCommand():
		if *cmd.volumeValue >= 0 {
			s.SetVolume(*cmd.volumeValue)
		}
		fmt.Fprintf(c.out, "Volume: %d\n", s.Volume())

	case cmd.mode.FullCommand():
		if *cmd.modeValue != "" {
			mode, err := playback.ParseMode(*cmd.modeValue)
			if err != nil {
				return err
			}
			s.SetMode(mode)
		}
		fmt.Fprintf(c.out, "Mode: %s\n", s.Mode())

	case cmd.shuffle.FullCommand():
		s.Shuffle()
		fmt.Fprintln(c.out, "Shuffled")

	case cmd.loopQueue.FullCommand():
		enabled := *cmd.loopQueueValue == "on"
		s.SetLoop(enabled)
		fmt.Fprintf(c.out, "Queue loop: %s\n", *cmd.loopQueueValue)

	case cmd.list.FullCommand():
		c.printQueue(s.ListQueue())

	case cmd.count.FullCommand():
		fmt.Fprintf(c.out, "%d songs queued\n", s.Count())

	case cmd.status.FullCommand():
		c.printStatus(s.Status())

	case cmd.quit.FullCommand():
		return ErrQuit
	}
	return nil
}

func (c *Console) requestSong(ctx context.Context, s *session.Session, lookup string, loop bool) error {
	sg, err := c.resolver.ResolveOne(ctx, lookup)
	if err != nil {
		return err
	}
	s.RequestSong(sg, c.cfg.Requester, c.cfg.ReplyTo, loop)
	fmt.Fprintf(c.out, "Queued: %s\n", sg.DisplayTitle())
	return nil
}

func (c *Console) printQueue(entries []session.QueueEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "The queue is empty")
		return
	}
	for i, e := range entries {
		if i == listLimit {
			fmt.Fprintf(c.out, "...and %d more\n", len(entries)-listLimit)
			break
		}
		fmt.Fprintf(c.out, "%2d. %s (%s)\n", i+1, e.Title, e.Requester)
	}
}

func (c *Console) printStatus(st session.Status) {
	fmt.Fprintf(c.out, "State: %s", st.State)
	if st.Channel != "" {
		fmt.Fprintf(c.out, " (%s)", st.Channel)
	}
	fmt.Fprintf(c.out, "\nMode: %s | Volume: %d | Loop: %t | Shuffle: %t\n", st.Mode, st.Volume, st.Loop, st.Shuffle)
	fmt.Fprintf(c.out, "Queued: %d | Pending: %d\n", st.Queued, st.Pending)
	if st.Current != nil {
		fmt.Fprintf(c.out, "Playing: %s\n", st.Current.Song.DisplayTitle())
	}
}
