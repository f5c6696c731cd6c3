package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/debug"
	"github.com/mkarlin14/tavernkeep/go/internal/dom/memdom"
	"github.com/mkarlin14/tavernkeep/go/internal/session"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	config, err := session.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The in-memory tree stands in for a browser DOM; fragments come from
	// the server's HTML endpoints.
	loader := memdom.NewHTTPLoader(config.ServerURL, config.HTTPTimeout)
	tree := memdom.NewTree(loader)

	sess, err := session.New(ctx, config, clockwork.NewRealClock(), tree)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to boot session")
	}
	defer sess.Close()

	if config.DebugAddr != "" {
		dbg := debug.NewServer(config.DebugAddr, sess)
		go func() {
			if err := dbg.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("debug endpoint failed")
			}
		}()
		defer dbg.Close()
	}

	log.Info().Str("server", config.ServerURL).Msg("headless client running")

	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("feed terminated")
	}
	log.Info().Msg("shutting down")
}
