// Command peer runs one participant of a live session: it captures local
// media, negotiates with the remote participant over the server's
// signaling hub and reads simple commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Telecare/internal/adapters/apiclient"
	"github.com/dkeye/Telecare/internal/adapters/devices"
	"github.com/dkeye/Telecare/internal/adapters/rtc"
	"github.com/dkeye/Telecare/internal/adapters/signalclient"
	"github.com/dkeye/Telecare/internal/app/audit"
	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/app/notes"
	"github.com/dkeye/Telecare/internal/app/session"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/domain"
)

var (
	server    = flag.String("server", "http://localhost:8080", "Telecare server base URL")
	sessionID = flag.String("session", "", "Session id")
	therapist = flag.String("therapist", "", "Practitioner user id")
	client    = flag.String("client", "", "Client user id")
	self      = flag.String("self", "client", "Which participant this process is: practitioner or client")
	role      = flag.String("role", "initiator", "Starting negotiation role: initiator or responder")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	id, err := domain.NewSessionIdentity(
		domain.SessionID(*sessionID),
		domain.UserID(*therapist),
		domain.UserID(*client),
		domain.Role(*role),
		domain.Participant(*self),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid identity: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(ctx, cfg, id); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("peer stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, id domain.SessionIdentity) error {
	logger := log.With().Str("module", "cmd.peer").Str("session", string(id.SessionID)).Logger()

	api, err := apiclient.New(*server, id.LocalUserID(), id.Self)
	if err != nil {
		return err
	}

	auditLog := audit.NewLogger(api, cfg.AuditBuffer, cfg.AuditWriteTimeout)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = auditLog.Close(closeCtx)
	}()

	backend, err := devices.New()
	if err != nil {
		return err
	}
	rtcAPI, err := rtc.NewAPI(backend.Populate)
	if err != nil {
		return err
	}

	sig, err := signalclient.Dial(ctx, api.SignalURL(), id.SessionID, id.LocalUserID(), id.Self)
	if err != nil {
		return err
	}
	defer sig.Close()

	mgr, err := session.New(ctx, session.Deps{
		Identity:     id,
		Signaling:    sig,
		Devices:      media.NewController(backend),
		NewTransport: rtc.NewFactory(rtcAPI, rtc.Configuration(cfg.Session.ICEServers), id.SessionID),
		Audit:        auditLog,
		Config:       cfg.Session,
	})
	if err != nil {
		return err
	}
	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	var autosave *notes.Autosaver
	if id.Self == domain.Practitioner {
		autosave, err = notes.NewAutosaver(api, id, cfg.Storage.NotesAutosaveInterval)
		if err != nil {
			return err
		}
		if text, err := autosave.Load(ctx); err != nil {
			logger.Warn().Err(err).Msg("notes not restored")
		} else if text != "" {
			logger.Info().Int("chars", len(text)).Msg("notes restored")
		}
		autosave.Start(ctx)
		defer autosave.Stop()
	}

	if err := mgr.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ev := range events {
			logEvent(logger, mgr, ev)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-mgr.Done():
		case <-gctx.Done():
			mgr.EndSession()
			<-mgr.Done()
		}
		return nil
	})
	go commands(gctx, logger, mgr, autosave)

	return g.Wait()
}

func logEvent(logger zerolog.Logger, mgr *session.Manager, ev session.Event) {
	switch e := ev.(type) {
	case session.StateChanged:
		logger.Info().Str("from", e.From.Kind().String()).Str("to", e.To.Kind().String()).Msg("state changed")
	case session.RemoteStreamArrived:
		logger.Info().Str("stream", e.Stream.ID).Int("tracks", len(e.Stream.Tracks)).Msg("remote stream arrived")
		for _, t := range e.Stream.Tracks {
			mgr.AttachSink(t.ID(), "counter", &packetCounter{log: logger.With().Str("track", t.ID()).Logger()})
		}
	case session.LocalStreamReplaced:
		logger.Info().Bool("has_local", e.Local != nil).Msg("local preview replaced")
	case session.ReactionReceived:
		logger.Info().Str("from", string(e.From)).Str("emoji", e.Emoji).Msg("reaction")
	case session.ScreenShareStarted:
		logger.Info().Msg("screen share started")
	case session.ScreenShareStopped:
		logger.Info().Bool("by_user", e.ByUser).Msg("screen share stopped")
	case session.NonFatalError:
		logger.Warn().Err(e.Err).Str("op", e.Op).Msg("recovered error")
	}
}

// commands reads one command per line:
// m (mute), v (video), c (switch camera), s/S (start/stop screen share),
// r <emoji>, n <text> (practitioner notes), q (end).
func commands(ctx context.Context, logger zerolog.Logger, mgr *session.Manager, autosave *notes.Autosaver) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "m":
			logger.Info().Bool("muted", mgr.ToggleMute()).Msg("mute")
		case "v":
			logger.Info().Bool("video_off", mgr.ToggleVideo()).Msg("video")
		case "c":
			if err := mgr.SwitchCamera(); err != nil {
				logger.Warn().Err(err).Msg("switch camera")
			}
		case "s":
			if err := mgr.StartScreenShare(); err != nil {
				logger.Warn().Err(err).Msg("screen share")
			}
		case "S":
			mgr.StopScreenShare()
		case "r":
			if err := mgr.SendReaction(ctx, arg); err != nil {
				logger.Warn().Err(err).Msg("reaction")
			}
		case "n":
			if autosave == nil {
				logger.Warn().Msg("notes are practitioner-only")
				continue
			}
			autosave.Update(arg)
			ev := logger.Info().Int("chars", len(arg))
			if saved := autosave.SavedAt(); !saved.IsZero() {
				ev = ev.Time("last_saved", saved)
			}
			ev.Msg("notes updated, saved on next tick")
		case "q":
			mgr.EndSession()
			return
		case "":
		default:
			logger.Warn().Str("command", cmd).Msg("unknown command")
		}
	}
}

// packetCounter is a remote track sink that logs throughput.
type packetCounter struct {
	log     zerolog.Logger
	packets atomic.Int64
}

func (p *packetCounter) WriteRTP(pkt *rtp.Packet) error {
	if n := p.packets.Add(1); n%500 == 0 {
		p.log.Debug().Int64("packets", n).Uint32("ssrc", pkt.SSRC).Msg("remote media flowing")
	}
	return nil
}
