package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bkonline.net/internal/protocol"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is a client connection to a lobby. It implements client.Transport;
// inbound frames, the WELCOME first, are delivered on Frames.
type Conn struct {
	conn    *websocket.Conn
	cfg     Config
	log     *zap.Logger
	welcome protocol.WelcomeMsg

	out    chan []byte
	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped atomic.Int64
}

// Dial connects to url, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url string, hello protocol.HelloMsg, cfg Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	hello.Type = protocol.TypeHello
	hello.ProtocolVersion = protocol.Version

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := writeJSON(conn, cfg.WriteTimeout, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode welcome: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(raw, &e)
		conn.Close()
		return nil, fmt.Errorf("lobby refused: %s: %s", e.Code, e.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(raw, &w); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode welcome: %w", err)
	}

	c := &Conn{
		conn:    conn,
		cfg:     cfg,
		log:     logger.Named("ws").With(zap.String("peer", w.PeerID)),
		welcome: w,
		out:     make(chan []byte, cfg.QueueSize),
		frames:  make(chan []byte, cfg.QueueSize),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.frames <- raw
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *Conn) Welcome() protocol.WelcomeMsg { return c.welcome }

// Frames is closed when the connection ends.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Dropped counts unreliable sends skipped because the queue was full.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)
	defer c.cancel()
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(c.ctx.Err(), context.Canceled) {
				c.log.Info("connection lost", zap.Error(err))
			}
			return
		}
		select {
		case c.frames <- raw:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	ping := time.NewTicker(c.cfg.ReadTimeout / 2)
	defer ping.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Info("ping failed", zap.Error(err))
				c.cancel()
				_ = c.conn.Close()
				return
			}
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Info("write failed", zap.Error(err))
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Conn) encode(to, group string, payload any) ([]byte, error) {
	m, err := protocol.NewSync(group, payload)
	if err != nil {
		return nil, err
	}
	m.To = to
	return json.Marshal(m)
}

// SendReliable queues a group, blocking while the queue is full.
func (c *Conn) SendReliable(group string, payload any) error {
	return c.sendBlocking("", group, payload)
}

// SendToPeer queues a group addressed to a single peer.
func (c *Conn) SendToPeer(peer, group string, payload any) error {
	return c.sendBlocking(peer, group, payload)
}

func (c *Conn) sendBlocking(to, group string, payload any) error {
	b, err := c.encode(to, group, payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// SendUnreliable queues a group unless the queue is full.
func (c *Conn) SendUnreliable(group string, payload any) error {
	b, err := c.encode("", group, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- b:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// Close ends the connection and waits for its goroutines.
func (c *Conn) Close() error {
	c.cancel()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
