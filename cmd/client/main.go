// Command client is a probe for the voice relay: it sends one recorded WAV
// clip over the WebSocket, prints the events that come back, and drains the
// synthesized audio through the sequential playback queue, saving each clip
// to disk.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/observability"
	"github.com/raselinfo/voice-relay/internal/playback"
	"github.com/raselinfo/voice-relay/internal/session"
)

func main() {
	var (
		addr    = flag.String("addr", "ws://localhost:8080/ws", "relay WebSocket URL")
		audio   = flag.String("audio", "", "path to a PCM16 mono 16kHz WAV clip to send")
		outDir  = flag.String("out", ".", "directory for received audio clips")
		clear   = flag.Bool("clear", false, "send a clear-history command before the clip")
		timeout = flag.Duration("timeout", 2*time.Minute, "overall probe timeout")
	)
	flag.Parse()

	observability.InitLogger("info", true)
	logger := observability.GetLogger()

	if *audio == "" {
		logger.Fatal().Msg("-audio is required")
	}
	clip, err := os.ReadFile(*audio)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read audio clip")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *addr, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("Failed to connect")
	}
	defer conn.Close()

	player := &filePlayer{dir: *outDir, logger: logger}
	sequencer := playback.NewSequencer(ctx, player, logger)

	if *clear {
		if err := conn.WriteJSON(map[string]string{"type": "cmd", "data": "clear"}); err != nil {
			logger.Fatal().Err(err).Msg("Failed to send clear command")
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, clip); err != nil {
		logger.Fatal().Err(err).Msg("Failed to send audio clip")
	}
	logger.Info().Int("bytes", len(clip)).Msg("Clip sent, waiting for response")

	sawResponse := false
	for {
		var ev session.OutputEvent
		if err := conn.ReadJSON(&ev); err != nil {
			logger.Fatal().Err(err).Msg("Connection lost")
		}

		switch ev.Type {
		case session.EventStatus:
			logger.Info().Str("status", ev.Text).Msg("Status")
			if ev.Text == session.StatusIdle && sawResponse {
				sequencer.Close()
				logger.Info().Msg("Turn complete")
				return
			}
			if ev.Text == session.StatusIdle && !sawResponse {
				sequencer.Close()
				logger.Warn().Msg("Relay heard no speech in the clip")
				return
			}

		case session.EventText:
			sawResponse = true
			logger.Info().Str("transcript", ev.Text).Msg("Transcribed")

		case session.EventAudio:
			payload, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err != nil {
				logger.Warn().Err(err).Msg("Skipping undecodable audio payload")
				continue
			}
			logger.Info().Str("text", ev.Text).Int("bytes", len(payload)).Msg("Audio received")
			if err := sequencer.Enqueue(ctx, payload); err != nil {
				logger.Fatal().Err(err).Msg("Playback queue rejected clip")
			}

		case session.EventError:
			logger.Error().Str("message", ev.Text).Msg("Relay error")
		}
	}
}

// filePlayer "plays" clips by writing them to disk in playback order.
type filePlayer struct {
	dir    string
	count  int
	logger zerolog.Logger
}

func (p *filePlayer) Play(ctx context.Context, mimeType string, data []byte) error {
	p.count++
	ext := ".wav"
	if mimeType == "audio/mpeg" {
		ext = ".mp3"
	}
	path := filepath.Join(p.dir, fmt.Sprintf("clip_%03d%s", p.count, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write clip: %w", err)
	}
	p.logger.Info().Str("path", path).Str("mime", mimeType).Msg("Clip saved")
	return nil
}
