// Package gateway terminates the websocket connection, validates protocol
// frames, and routes them to the owning session. Blocking model work never
// happens on the read path; the session dispatches it asynchronously.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/internal/metrics"
	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/pipeline"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
	"github.com/chriscow/voiceloop-go/pkg/session"
	"github.com/chriscow/voiceloop-go/pkg/turn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns one session per websocket connection.
type Server struct {
	sessionCfg  session.Config
	coordinator *pipeline.Coordinator
	scorer      turn.Scorer // may be nil, forcing baseline segmentation
	logger      *zap.Logger
}

// NewServer creates the websocket endpoint handler.
func NewServer(sessionCfg session.Config, coordinator *pipeline.Coordinator, scorer turn.Scorer, logger *zap.Logger) *Server {
	return &Server{
		sessionCfg:  sessionCfg,
		coordinator: coordinator,
		scorer:      scorer,
		logger:      logger.Named("gateway"),
	}
}

// ServeHTTP upgrades the connection and runs its session until the
// transport closes or the session tears itself down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	log := s.logger.With(zap.String("session_id", id))

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	emitter := newWSEmitter(conn, log)
	sess := session.New(id, s.sessionCfg, s.coordinator, s.scorer, emitter, s.logger)
	log.Info("session connected", zap.String("remote", r.RemoteAddr))

	s.readLoop(conn, sess, id, log)

	// Transport gone or idle teardown: cancel the active run, release
	// session buffers, then stop the writer.
	sess.Close()
	emitter.stop()
	log.Info("session closed")
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session, id string, log *zap.Logger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info("connection closed", zap.Error(err))
			return
		}

		msg, pcm, err := parseInbound(raw)
		if err != nil {
			// A malformed frame is dropped; the session continues.
			metrics.MalformedMessages.Inc()
			log.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case TypeAudioInput:
			chunk, err := rtc.NewAudioChunk(pcm, msg.SampleRate, msg.Channels, msg.Sequence, id, time.Now())
			if err != nil {
				metrics.MalformedMessages.Inc()
				log.Warn("dropping invalid audio chunk", zap.Error(err))
				continue
			}
			sess.PushAudio(chunk)

		case TypeControl:
			switch msg.Action {
			case ActionStart:
				sess.Start()
			case ActionStop:
				sess.Stop()
			case ActionSetMode:
				mode, err := session.ParseMode(msg.Mode)
				if err != nil {
					// parseInbound already rejects unknown modes;
					// drop rather than trust the zero value.
					log.Warn("dropping set_mode", zap.Error(err))
					continue
				}
				sess.SetMode(mode)
			case ActionParticipants:
				sess.SetParticipants(msg.Count)
			}
		}
	}
}

// wsEmitter serializes outbound frames through a single writer goroutine,
// preserving emission order. gorilla/websocket allows one concurrent writer.
type wsEmitter struct {
	conn   *websocket.Conn
	logger *zap.Logger

	out      chan Message
	closed   chan struct{}
	stopOnce sync.Once
}

func newWSEmitter(conn *websocket.Conn, logger *zap.Logger) *wsEmitter {
	e := &wsEmitter{
		conn:   conn,
		logger: logger,
		out:    make(chan Message, 256),
		closed: make(chan struct{}),
	}
	go e.writePump()
	return e
}

func (e *wsEmitter) writePump() {
	for {
		select {
		case msg := <-e.out:
			_ = e.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := e.conn.WriteJSON(msg); err != nil {
				e.logger.Warn("websocket write failed", zap.Error(err))
			}
		case <-e.closed:
			return
		}
	}
}

func (e *wsEmitter) send(msg Message) error {
	select {
	case e.out <- msg:
		return nil
	case <-e.closed:
		return ai.ErrTransport
	}
}

func (e *wsEmitter) SendAudio(chunk rtc.AudioChunk) error {
	return e.send(audioOutputMessage(chunk.Data, chunk.SampleRate, chunk.Channels))
}

func (e *wsEmitter) SendText(role, text string) error {
	return e.send(textMessage(role, text))
}

func (e *wsEmitter) SendError(code, message string) error {
	return e.send(errorMessage(code, message))
}

// Close implements session.Emitter for idle teardown: closing the
// underlying connection unblocks the server's read loop, which then runs
// the normal teardown path.
func (e *wsEmitter) Close() error {
	return e.conn.Close()
}

// stop ends the writer goroutine once the session is gone.
func (e *wsEmitter) stop() {
	e.stopOnce.Do(func() {
		close(e.closed)
		e.conn.Close()
	})
}
