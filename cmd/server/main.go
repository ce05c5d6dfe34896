// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/app/console"
	"github.com/CarlosFdez/SpueBox/internal/app/notification"
	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/app/resolver"
	"github.com/CarlosFdez/SpueBox/internal/app/session"
	"github.com/CarlosFdez/SpueBox/internal/app/session/registry"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/infra/config"
	"github.com/CarlosFdez/SpueBox/internal/infra/discord"
	"github.com/CarlosFdez/SpueBox/internal/infra/logger"
	"github.com/CarlosFdez/SpueBox/internal/infra/pcm"
	"github.com/CarlosFdez/SpueBox/internal/infra/speaker"
	"github.com/CarlosFdez/SpueBox/internal/infra/spotify"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

// localGuild is the guild ID used for local speaker playback.
const localGuild = "local"

const shutdownTimeout = 10 * time.Second

var version = "dev"

var (
	app        = kingpin.New("spuebox", "Per-guild audio playback bot")
	configPath = app.Flag("config", "Path to config file (defaults only when empty)").Envar("SPUEBOX_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	runCmd   = app.Command("run", "Run the Discord bot with an operator console (default)").Default()
	localCmd = app.Command("local", "Play through the local audio device with an operator console")

	resolveCmd      = app.Command("resolve", "Resolve a lookup and print the songs")
	resolvePlaylist = resolveCmd.Flag("playlist", "Resolve every song of a playlist").Bool()
	resolveLookup   = resolveCmd.Arg("lookup", "URL or search text").Required().Strings()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	app.Version(version)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override with command-line flags if specified
	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	if err := run(command, cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the selected command. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(command string, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopMetrics, err := startMetrics(ctx, cfg.Metrics)
	if err != nil {
		return errors.Wrap(err, "failed to start metrics")
	}
	defer stopMetrics()
	metrics := observe.DefaultMetrics()

	var spotifyClient resolver.SpotifyClient
	if cfg.Spotify.Enabled() {
		c, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		spotifyClient = c
	}

	chain, err := resolver.NewChainFromConfig(cfg, spotifyClient, metrics)
	if err != nil {
		return errors.Wrap(err, "failed to create resolver")
	}

	if command == resolveCmd.FullCommand() {
		return resolve(ctx, chain, strings.Join(*resolveLookup, " "), *resolvePlaylist)
	}

	mode, err := playback.ParseMode(cfg.Player.Mode)
	if err != nil {
		return err
	}
	decoder := &pcm.Decoder{Binary: cfg.Player.Encoder}

	notifier := notification.NewManager(cfg.Player.NotifyTimeout)
	defer notifier.Close()

	var newTransport func(guildID string) session.Transport
	sessions := registry.New(func(guildID string) *session.Session {
		s := session.New(session.Config{
			GuildID:     guildID,
			Volume:      cfg.Player.Volume,
			Mode:        mode,
			IdleTimeout: cfg.Player.IdleTimeout,
			Transport:   newTransport(guildID),
			Notifier:    notifier,
			Metrics:     metrics,
		})
		go watchEvents(ctx, s)
		return s
	})

	guildID, replyTo := localGuild, ""

	switch command {
	case runCmd.FullCommand():
		if err := cfg.RequireDiscord(); err != nil {
			return err
		}
		bot, err := discord.Open(cfg.Discord.Token)
		if err != nil {
			return err
		}
		defer bot.Close()

		newTransport = func(guildID string) session.Transport {
			return discord.NewTransport(bot.Session(), guildID, decoder)
		}
		notifier.Subscribe(discord.NewSender(bot.Session(), cfg.Discord.TextChannelID))
		if cfg.LeaveWhenAlone() {
			bot.Session().AddHandler(discord.LeaveWhenAlone(sessions))
		}
		guildID, replyTo = cfg.Discord.GuildID, cfg.Discord.TextChannelID

	case localCmd.FullCommand():
		if !speaker.Available {
			return errors.New("local playback requires a cgo build")
		}
		local := speaker.NewTransport(decoder)
		newTransport = func(string) session.Transport { return local }
		notifier.Subscribe(notification.LogSink{})
	}

	if guildID == "" {
		zlog.Info().Msg("No guild configured, operator console disabled")
	} else {
		con := console.New(console.Config{GuildID: guildID, ReplyTo: replyTo}, sessions, chain, os.Stdout)
		go func() {
			if err := con.Run(ctx, os.Stdin); err != nil {
				zlog.Error().Msgf("Console stopped: %v", err)
			}
			stop()
		}()
		zlog.Info().Msgf("Operator console ready: guild=%s", guildID)
	}

	<-ctx.Done()
	zlog.Info().Msg("Shutting down...")

	// Leave voice channels before the gateway closes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shut down sessions: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// resolve prints what a lookup resolves to.
func resolve(ctx context.Context, chain *resolver.Chain, lookup string, playlist bool) error {
	var songs []song.Song
	if playlist {
		var err error
		if songs, err = chain.ResolveMany(ctx, lookup); err != nil {
			return err
		}
	} else {
		sg, err := chain.ResolveOne(ctx, lookup)
		if err != nil {
			return err
		}
		songs = append(songs, sg)
	}

	for i, sg := range songs {
		fmt.Printf("%3d. %s\n", i+1, sg.DisplayTitle())
		fmt.Printf("     url=%s duration=%s uploader=%s\n", sg.URL, sg.Duration, sg.Uploader)
	}
	return nil
}

// startMetrics installs the Prometheus-backed meter provider and serves it
// when an address is configured.
func startMetrics(ctx context.Context, cfg config.MetricsConfig) (func(), error) {
	if cfg.Addr == "" {
		return func() {}, nil
	}

	shutdownProvider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info().Msgf("Serving metrics: addr=%s path=%s", cfg.Addr, cfg.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Msgf("Metrics server error: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zlog.Warn().Msgf("Failed to shut down metrics server: %v", err)
		}
		if err := shutdownProvider(ctx); err != nil {
			zlog.Warn().Msgf("Failed to shut down meter provider: %v", err)
		}
	}, nil
}

// watchEvents logs session events until ctx is done.
func watchEvents(ctx context.Context, s *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.Events():
			title := ""
			if e.Request != nil {
				title = e.Request.Song.DisplayTitle()
			}
			switch e.Type {
			case playback.EventSongFailed:
				zlog.Warn().Msgf("session event: guild=%s type=%s title=%q error=%v", e.GuildID, e.Type, title, e.Err)
			case playback.EventSongStarted, playback.EventConnected, playback.EventDisconnected, playback.EventIdleTimeout:
				zlog.Info().Msgf("session event: guild=%s type=%s channel=%s title=%q", e.GuildID, e.Type, e.Channel, title)
			default:
				zlog.Debug().Msgf("session event: guild=%s type=%s channel=%s", e.GuildID, e.Type, e.Channel)
			}
		}
	}
}
