// devicesim runs the device decoder on the host: it speaks the same
// binary command protocol and emits the same STATS lines as the firmware,
// over stdio or a TCP socket, against a fake LED strip and simulated
// sensors. It lets the showrunner (or a takeover client) run end-to-end
// with no hardware attached.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/showrunner/internal/device"
)

func main() {
	var (
		listen  = flag.String("listen", "", "TCP listen address (default: stdio)")
		gamma   = flag.Float64("gamma", 2.8, "gamma correction exponent")
		limit   = flag.Uint("limit", 30000, "per-channel current limit threshold")
		timeout = flag.Duration("pattern-timeout", 5*time.Second, "host silence before fallback pattern")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := device.DefaultConfig()
	cfg.Gamma = *gamma
	cfg.CurrentLimit = uint32(*limit)
	cfg.PatternTimeout = *timeout

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *listen == "" {
		serve(ctx, cfg, os.Stdin, os.Stdout)
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
	log.Info().Str("addr", *listen).Msg("devicesim listening")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("host connected")
		serve(ctx, cfg, conn, conn)
		conn.Close()
		log.Info().Msg("host disconnected")
	}
}

// serve runs decoders back to back so a reset command behaves like a
// firmware reboot: fresh state, same link.
func serve(ctx context.Context, cfg device.Config, in io.Reader, out io.Writer) {
	for {
		strip := device.NewFakeStrip()
		sensors := device.NewSimSensors()
		dec := device.New(cfg, strip, sensors, device.NopIndicator{}, out)
		err := dec.Run(ctx, in)
		switch {
		case errors.Is(err, device.ErrResetRequested):
			log.Info().Msg("reset command received, rebooting decoder")
			continue
		case errors.Is(err, context.Canceled):
			return
		default:
			if err != nil {
				log.Warn().Err(err).Msg("decoder stopped")
			}
			return
		}
	}
}
