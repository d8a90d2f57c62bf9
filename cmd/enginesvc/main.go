// Command enginesvc runs the engine process (§4.1): it owns ffmpeg/yt-dlp
// subprocess lifecycles, exposes the session control-plane HTTP API, and
// streams framed audio + events to whichever orchestrator is connected over
// the transport socket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"audiorelay/internal/config"
	"audiorelay/internal/engine"
	"audiorelay/internal/httpapi"
	"audiorelay/internal/observability"
	"audiorelay/internal/platform"
	"audiorelay/internal/platform/youtube"
	"audiorelay/internal/transport"
	"audiorelay/pkg/deps"
)

func main() {
	log := observability.NewLogger("engine")

	if err := deps.NewChecker("yt-dlp", "ffmpeg").CheckAndLog(log); err != nil {
		log.Fatal().Err(err).Msg("missing required subprocess dependencies")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	youtube.LoadConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := platform.NewRegistry()
	extractor := youtube.NewWithLogger(log)
	registry.Register(extractor)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	socket := transport.NewSocket(cfg.SocketPath, log.With().Str("subsystem", "transport").Logger())
	if err := socket.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start transport socket")
	}
	defer socket.Stop()

	manager := engine.New(ctx, registry, socket, log.With().Str("subsystem", "engine").Logger(), metrics, cfg.AudioBitrate)

	api := httpapi.New(manager, extractor, log.With().Str("subsystem", "httpapi").Logger())
	router := httpapi.NewRouter(api, manager, reg, log)

	srv := &http.Server{
		Addr:         addrFor(cfg.ControlPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses are not used here, but status polling shouldn't time out under load
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("engine control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control plane listener failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control plane shutdown did not complete cleanly")
	}
	cancel()
}

func addrFor(port int) string {
	return ":" + strconv.Itoa(port)
}
