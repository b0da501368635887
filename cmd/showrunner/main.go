package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/showrunner/internal/anim"
	"github.com/coreman2200/showrunner/internal/config"
	"github.com/coreman2200/showrunner/internal/coords"
	"github.com/coreman2200/showrunner/internal/render"
	"github.com/coreman2200/showrunner/internal/serialio"
	"github.com/coreman2200/showrunner/internal/takeover"
)

func main() {
	os.Exit(run())
}

func run() int {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		return 1
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}

	log.Info().Msg("showrunner starting")

	store, err := coords.Load(cfg.CoordsPath)
	if err != nil {
		log.Error().Err(err).Msg("coordinate load failed")
		return 1
	}

	initial, err := anim.Load(cfg.AnimDir, cfg.InitialAnim, store)
	if err != nil {
		log.Error().Err(err).Str("animation", cfg.InitialAnim).Msg("initial animation load failed")
		return 1
	}

	port, portPath, err := serialio.Discover(cfg.SerialBase, cfg.SerialBaud)
	if err != nil {
		log.Error().Err(err).Str("base", cfg.SerialBase).Msg("serial discovery failed")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A lost serial link is fatal; the supervising service restarts the
	// process, which resynchronizes parser state on both ends.
	fatalSerial := make(chan error, 1)
	session := serialio.New(port, &serialio.StatusWriter{Path: cfg.StatusFile}, func(err error) {
		select {
		case fatalSerial <- err:
		default:
		}
		cancel()
	})
	session.Start(ctx)

	engine, err := render.NewEngine(store, session, cfg.Channels, cfg.LEDsPerChan, cfg.FPS, initial)
	if err != nil {
		log.Error().Err(err).Msg("engine init failed")
		return 1
	}

	switcher := anim.NewSwitcher(cfg.ControlFile, cfg.AnimDir, store, cfg.InitialAnim, engine.Install)
	go func() {
		if err := switcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("animation switcher stopped")
		}
	}()

	srv := takeover.NewServer(cfg.ListenAddr,
		time.Duration(cfg.EvictionAgeS)*time.Second,
		time.Duration(cfg.IdleTimeoutS)*time.Second,
		engine, session)
	bindErr := make(chan error, 1)
	go func() {
		if err := srv.Run(ctx); err != nil {
			bindErr <- err
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	log.Info().
		Str("port", portPath).
		Int("channels", cfg.Channels).
		Int("leds_per_channel", cfg.LEDsPerChan).
		Int("fps", cfg.FPS).
		Msg("render loop starting")
	_ = engine.Run(ctx)

	// Darken the display before releasing the port.
	_ = session.ClearAll()
	time.Sleep(100 * time.Millisecond)
	_ = session.Close()

	select {
	case err := <-fatalSerial:
		log.Error().Err(err).Msg("exiting after serial failure")
		return 1
	case err := <-bindErr:
		log.Error().Err(err).Msg("exiting after takeover server failure")
		return 1
	default:
	}
	log.Info().Msg("showrunner stopped")
	return 0
}
