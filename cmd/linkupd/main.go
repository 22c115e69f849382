// Package main provides the linkup orchestration daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/linkup-app/linkup/internal/caption"
	"github.com/linkup-app/linkup/internal/config"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/internal/linkupd"
	"github.com/linkup-app/linkup/internal/localstore"
	"github.com/linkup-app/linkup/internal/metrics"
	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/internal/remote"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/internal/session"
	"github.com/linkup-app/linkup/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP port (default: from config)")
	backendURL := flag.String("backend", "", "Backend base URL (default: from config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.DaemonPort = *port
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	local, err := localstore.Open(config.CachePath(), []byte(cfg.LocalSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local cache")
	}
	defer local.Close()
	if err := local.Watch(); err != nil {
		log.Warn().Err(err).Msg("Cache file watching disabled")
	}

	var channel replication.Channel
	if cfg.RedisAddr != "" {
		var dialOpts []redis.DialOption
		if cfg.RedisPassword != "" {
			dialOpts = append(dialOpts, redis.DialPassword(cfg.RedisPassword))
		}
		channel = replication.NewRedis(cfg.RedisAddr, dialOpts...)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Replication over Redis")
	} else {
		channel = replication.NewMemory()
		log.Info().Msg("Replication in-process only")
	}
	defer channel.Close()

	meters := metrics.NewEngine()
	client := remote.New(strings.TrimSuffix(cfg.BackendURL, "/") + "/api")

	connections := store.NewConnectionStore(meters)
	detach, err := connections.Attach(channel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to replication channel")
	}
	defer detach()

	engine := session.NewEngine(session.Deps{
		Registry:      device.NewRegistry(device.NullProvider{}),
		Transcriber:   outreach.NewTranscriber(client.Transcribe, meters),
		Drafter:       outreach.NewDrafter(client.GenerateMessage, meters),
		Gateway:       store.NewGateway(client.CreateConnection, channel),
		Connections:   connections,
		Local:         local,
		Channel:       channel,
		CreateProfile: client.CreateProfile,
		Captions:      caption.New(time.Second),
		Metrics:       meters,
	})

	svc := linkupd.NewService(Version, cfg, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(svc.Start)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down daemon")
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Daemon exited with error")
	}
}
