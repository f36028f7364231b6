package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bkonline.net/internal/lobby"
	"bkonline.net/internal/protocol"
)

type Config struct {
	// QueueSize bounds each peer's outbound queue.
	QueueSize        int
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type Server struct {
	lobbies   *lobby.Manager
	validator *protocol.Validator
	cfg       Config
	log       *zap.Logger

	upgrader websocket.Upgrader
}

// NewServer serves lobby peers over websocket. validator may be nil, in which
// case frames are only checked for shape.
func NewServer(m *lobby.Manager, v *protocol.Validator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		lobbies:   m,
		validator: v,
		cfg:       cfg.withDefaults(),
		log:       logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	peerID string
	lobby  *lobby.Lobby
	out    chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(r.Context(), conn)
		if sess == nil {
			return
		}
		log := s.log.With(zap.String("lobby", sess.lobby.ID()), zap.String("peer", sess.peerID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. The lobby closes out when it drops the peer.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, "removed from lobby"),
							time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Client pings keep an idle peer alive.
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_ = conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteTimeout))
			return nil
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug("read", zap.Error(err))
				break
			}
			env := lobby.Envelope{PeerID: sess.peerID}
			env.Msg, env.Err = s.decodeSync(msg)
			if env.Err != nil {
				log.Debug("dropping frame", zap.Error(env.Err))
			}
			if !sess.lobby.Submit(ctx, env) {
				break
			}
		}

		cancel()
		sess.lobby.Leave(sess.peerID, sess.out)
	}
}

func (s *Server) decodeSync(raw []byte) (protocol.SyncMsg, error) {
	if s.validator != nil {
		if err := s.validator.Validate(raw); err != nil {
			return protocol.SyncMsg{}, err
		}
	}
	var m protocol.SyncMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("bad json: %w", err)
	}
	if m.Type != protocol.TypeSync {
		return m, fmt.Errorf("unexpected %s after handshake", m.Type)
	}
	if m.ProtocolVersion != protocol.Version {
		return m, fmt.Errorf("bad protocol_version %q", m.ProtocolVersion)
	}
	return m, nil
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	if s.validator != nil {
		if err := s.validator.Validate(msg); err != nil {
			reject(conn, protocol.ErrProtoBadRequest, err.Error())
			return nil
		}
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Lobby == "" {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}

	peerID := hello.PeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}
	out := make(chan []byte, s.cfg.QueueSize)

	jctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	l, welcome, err := s.lobbies.Join(jctx, hello.Lobby, lobby.JoinRequest{
		PeerID:   peerID,
		Nickname: hello.Nickname,
		Out:      out,
	})
	switch {
	case errors.Is(err, lobby.ErrFull):
		reject(conn, protocol.ErrLobbyBusy, "lobby full")
		return nil
	case err != nil:
		s.log.Warn("join", zap.String("lobby", hello.Lobby), zap.Error(err))
		reject(conn, protocol.ErrLobbyClosed, "lobby unavailable")
		return nil
	}

	if err := writeJSON(conn, s.cfg.WriteTimeout, welcome); err != nil {
		l.Leave(peerID, out)
		return nil
	}
	s.log.Debug("handshake", zap.String("lobby", hello.Lobby), zap.String("peer", peerID))
	return &session{peerID: peerID, lobby: l, out: out}
}

// reject answers with an ERROR frame and closes the connection.
func reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, time.Second, protocol.NewError(code, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, timeout time.Duration, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
