package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/chat"
	"github.com/vaishnavt2002/meetcore/internal/config"
	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/meeting"
)

type consoleHandler struct{}

func (consoleHandler) OnState(s meeting.State, detail string) {
	log.Info().Str("state", string(s)).Str("detail", detail).Msg("meeting")
}

func (consoleHandler) OnPeer(p *domain.Participant) {
	if p == nil {
		log.Info().Msg("peer left the meeting")
		return
	}
	log.Info().Str("peer", string(p.ID)).Str("name", p.DisplayName).Str("kind", string(p.Kind)).Msg("peer joined")
}

func (consoleHandler) OnChat(m chat.Message) {
	fmt.Printf("[%s] %s\n", m.SenderID, m.Content)
}

func main() {
	addr := flag.String("addr", "", "meeting address, e.g. /meet/abc123?type=AUDIO_AND_VIDEO")
	token := flag.String("token", os.Getenv("MEET_TOKEN"), "auth token (or MEET_TOKEN env)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *addr == "" || *token == "" {
		log.Fatal().Msg("both -addr and -token are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	profile := meeting.NewProfileClient(cfg.AuthURL, *token)
	ctl := meeting.NewController(cfg, profile, consoleHandler{})

	if err := ctl.Join(ctx, *addr); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	// Lines typed on stdin go to the chat side-channel.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := ctl.SendChat(line); err != nil {
				log.Warn().Err(err).Msg("chat send failed")
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("leaving meeting")
	ctl.End()
}
