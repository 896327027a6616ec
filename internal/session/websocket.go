package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/config"
	"github.com/raselinfo/voice-relay/internal/llm"
	"github.com/raselinfo/voice-relay/internal/observability"
	"github.com/raselinfo/voice-relay/internal/stt"
	"github.com/raselinfo/voice-relay/internal/tts"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second

	// maxAudioPayload caps one uploaded clip at roughly two minutes of
	// 16 kHz PCM16 mono audio.
	maxAudioPayload = 4 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// controlMessage is an inbound text frame.
type controlMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ProviderFactory builds the per-session external collaborators. Each session
// gets its own provider instances so per-session metrics and loggers attach
// cleanly.
type ProviderFactory func(logger zerolog.Logger, metrics *observability.Metrics) (stt.Transcriber, llm.Completer, tts.Synthesizer, error)

// Handler returns the WebSocket endpoint. Each accepted connection becomes
// one Session; the connection's read loop feeds it and a single writer
// goroutine owns all writes to the conn.
func Handler(cfg *config.Config, providers ProviderFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l := observability.GetLogger()
			l.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		sessionID := uuid.New().String()
		logger := observability.SessionLogger(sessionID)

		var metrics *observability.Metrics
		if cfg.MetricsEnabled {
			metrics = observability.NewSessionMetrics()
		}

		transcriber, completer, synth, err := providers(logger, metrics)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to build session providers")
			return
		}

		sess := NewSession(sessionID, cfg, transcriber, completer, synth, logger, metrics)
		logger.Info().Str("remote", r.RemoteAddr).Msg("Session started")

		writerDone := make(chan struct{})
		go writeLoop(conn, sess, logger, writerDone)

		sess.send(statusEvent(StatusReady))
		readLoop(conn, sess, logger)

		sess.Close()
		<-writerDone
	}
}

// readLoop consumes inbound frames until the connection drops: binary frames
// are audio turns, text frames are control commands.
func readLoop(conn *websocket.Conn, sess *Session, logger zerolog.Logger) {
	conn.SetReadLimit(maxAudioPayload)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			sess.HandleAudio(payload)

		case websocket.TextMessage:
			handleTextFrame(sess, logger, payload)
		}
	}
}

// handleTextFrame decodes one inbound control frame. Malformed or unknown
// input is logged and ignored; the session is untouched.
func handleTextFrame(sess *Session, logger zerolog.Logger, payload []byte) {
	var cmd controlMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logger.Warn().Err(err).Msg("Ignoring malformed control message")
		return
	}
	handleControl(sess, logger, cmd)
}

func handleControl(sess *Session, logger zerolog.Logger, cmd controlMessage) {
	if cmd.Type != "cmd" {
		logger.Warn().Str("type", cmd.Type).Msg("Ignoring unknown message type")
		return
	}
	switch cmd.Data {
	case "clear":
		sess.ClearHistory()
	default:
		logger.Warn().Str("cmd", cmd.Data).Msg("Ignoring unknown command")
	}
}

// writeLoop is the sole writer on the connection. It forwards session events
// in order and keeps the connection alive with pings.
func writeLoop(conn *websocket.Conn, sess *Session, logger zerolog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn().Err(err).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
