// Command consumersvc runs the orchestrator process (§4.2): it serves the
// consumer-facing websocket transport, persists queue/playback state, and
// drives the engine's HTTP control plane in response to consumer actions
// and the engine's own ready/finished/error events.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"audiorelay/internal/client"
	"audiorelay/internal/config"
	"audiorelay/internal/observability"
	"audiorelay/internal/orchestrator"
	"audiorelay/internal/orchestrator/store"
	"audiorelay/internal/orchestrator/wsapi"
	"audiorelay/internal/transport"
	"audiorelay/internal/voicesink"
)

// reconnectDelay bounds how quickly the engine-socket dial loop retries
// after a disconnect or failed dial.
const reconnectDelay = 2 * time.Second

func main() {
	log := observability.NewLogger("orchestrator")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persisted-session store")
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	engineURL := os.Getenv("ENGINE_URL")
	if engineURL == "" {
		engineURL = "http://127.0.0.1:" + strconv.Itoa(cfg.ControlPort)
	}
	engineClient := orchestrator.NewEngineClient(engineURL)

	hub := wsapi.New(log.With().Str("subsystem", "wsapi").Logger())
	mgr := orchestrator.New(ctx, engineClient, engineClient, db, hub, wireFormat(cfg.AudioMode), log.With().Str("subsystem", "orchestrator").Logger(), metrics)
	hub.SetManager(mgr)

	router := client.NewRouter(cfg.AudioMode, cfg.AudioBitrate, hub, log.With().Str("subsystem", "client").Logger(), metrics)

	if cfg.AudioMode == config.ModeVoiceChat {
		session, guildID, err := dialDiscord(log)
		if err != nil {
			log.Fatal().Err(err).Msg("voice_chat mode requires a working Discord bot session")
		}
		defer session.Close()
		router.SetVoiceSinkFactory(discordVoiceSinkFactory(session, guildID))
	}

	go dialLoop(ctx, cfg.SocketPath, mgr, router, log.With().Str("subsystem", "transport").Logger())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.ControlPort+1),
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("consumer transport listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("consumer transport listener failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("consumer transport shutdown did not complete cleanly")
	}
	cancel()
}

// wireFormat picks the transcode format every play command for this
// orchestrator process is issued with, based on the configured client
// adapter variant.
func wireFormat(mode config.AudioMode) string {
	switch mode {
	case config.ModeWebAudio:
		return "opus-container"
	case config.ModeVoiceChat, config.ModeDebugAudio:
		return "raw-opus"
	default:
		return "raw-opus"
	}
}

// dialDiscord opens a Discord bot session for voice_chat mode, reading
// DISCORD_BOT_TOKEN and DISCORD_GUILD_ID from the environment the way the
// rest of this process reads its configuration from env vars.
func dialDiscord(log zerolog.Logger) (*discordgo.Session, string, error) {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	guildID := os.Getenv("DISCORD_GUILD_ID")
	if token == "" || guildID == "" {
		return nil, "", fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_GUILD_ID must both be set")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, "", fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		return nil, "", fmt.Errorf("open discord session: %w", err)
	}
	log.Info().Str("guild_id", guildID).Msg("discord voice session ready")
	return session, guildID, nil
}

// discordVoiceSinkFactory builds a client.VoiceSinkFactory that joins the
// voice channel identified by the consumer id itself (§3's consumer id
// doubles as the target voice channel for this mode) and hands back its
// Opus send boundary.
func discordVoiceSinkFactory(session *discordgo.Session, guildID string) client.VoiceSinkFactory {
	return func(consumerID string) (voicesink.OpusSink, error) {
		vc, err := session.ChannelVoiceJoin(guildID, consumerID, false, true)
		if err != nil {
			return nil, fmt.Errorf("join voice channel %q: %w", consumerID, err)
		}
		return voicesink.NewDiscordSink(vc)
	}
}

// dialLoop maintains a connection to the engine's audio socket, demuxing
// frames to router and events to mgr, reconnecting on any error until ctx
// is cancelled.
func dialLoop(ctx context.Context, socketPath string, mgr *orchestrator.Manager, router *client.Router, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reader, conn, err := transport.Dial(socketPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to dial engine socket, retrying")
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}
		log.Info().Msg("connected to engine")

		readUntilError(ctx, reader, mgr, router, log)
		conn.Close()
		log.Warn().Msg("engine connection lost, reconnecting")

		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

func readUntilError(ctx context.Context, reader *transport.Reader, mgr *orchestrator.Manager, router *client.Router, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, event, err := reader.Next()
		if err != nil {
			return
		}

		switch {
		case event != nil:
			mgr.HandleEngineEvent(event.Type, event.SessionID, event.Message)
		case frame != nil:
			router.Deliver(ctx, frame.SessionID, frame.Payload)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
