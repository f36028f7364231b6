// Command bot is a headless lobby peer. It drives a simulated game memory
// through the same client session a real player runs and can grant itself
// progress so lobby merges can be exercised without an emulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bkonline.net/internal/client"
	"bkonline.net/internal/config"
	"bkonline.net/internal/emu"
	"bkonline.net/internal/emu/ram"
	"bkonline.net/internal/logging"
	"bkonline.net/internal/protocol"
	"bkonline.net/internal/puppet"
	"bkonline.net/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "client config yaml (optional)")
		url        = flag.String("url", "", "lobby websocket url (overrides config)")
		lobbyID    = flag.String("lobby", "", "lobby id (overrides config)")
		name       = flag.String("name", "", "nickname (overrides config)")
		scene      = flag.Uint("scene", 0x02, "scene the bot stands in")
		grant      = flag.Duration("grant", 0, "grant a random move or jiggy this often (0 disables)")
	)
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if *url != "" {
		cfg.URL = *url
	}
	if *lobbyID != "" {
		cfg.Lobby = *lobbyID
	}
	if *name != "" {
		cfg.Nickname = *name
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	b := newBot(cfg, logger)
	b.game.Set(emu.FieldPlaying, 1)
	b.game.Set(emu.FieldScene, uint32(*scene))
	b.grantEvery = *grant
	if err := b.run(ctx); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

type bot struct {
	cfg  config.Client
	log  *zap.Logger
	mem  *ram.RAM
	game *emu.Game
	host *ram.PuppetHost
	link *link
	sess *client.Session

	grantEvery time.Duration
	rng        *rand.Rand
}

func newBot(cfg config.Client, log *zap.Logger) *bot {
	mem := ram.New()
	game := emu.NewGame(mem, cfg.GameLayout())
	l := &link{}
	return &bot{
		cfg:  cfg,
		log:  log.Named("bot"),
		mem:  mem,
		game: game,
		host: ram.NewPuppetHost(mem, game.Addr(emu.FieldPuppetBase)),
		link: l,
		sess: client.NewSession(game, l, log),
		rng:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// run keeps the bot connected until ctx ends, reconnecting with its peer id
// so the lobby keeps its identity.
func (b *bot) run(ctx context.Context) error {
	hello := protocol.HelloMsg{Lobby: b.cfg.Lobby, Nickname: b.cfg.Nickname}
	backoff := time.Second
	for {
		conn, err := ws.Dial(ctx, b.cfg.URL, hello, ws.Config{QueueSize: b.cfg.QueueSize}, b.log)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		hello.PeerID = conn.Welcome().PeerID
		b.log.Info("joined", zap.String("lobby", b.cfg.Lobby), zap.String("peer", hello.PeerID),
			zap.Int("peers", len(conn.Welcome().Peers)))

		b.link.conn = conn
		b.drive(ctx, conn)
		b.link.conn = nil
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		b.log.Info("disconnected; reconnecting")
	}
}

// drive runs the session against one connection. Game memory is only touched
// from this goroutine.
func (b *bot) drive(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()
	var grantC <-chan time.Time
	if b.grantEvery > 0 {
		gt := time.NewTicker(b.grantEvery)
		defer gt.Stop()
		grantC = gt.C
	}

	status := time.NewTicker(statusEvery)
	defer status.Stop()

	frames := conn.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			if err := b.sess.HandleFrame(raw); err != nil {
				b.log.Warn("bad frame", zap.Error(err))
			}
		case <-grantC:
			b.grantProgress()
		case <-status.C:
			b.reportPuppets()
		case <-ticker.C:
			b.host.Step()
			b.sess.Tick()
		}
	}
}

const (
	statusEvery = 10 * time.Second
	// stuckTicks is how long a puppet command may sit unconsumed before the
	// bot warns about it.
	stuckTicks = 100
)

// reportPuppets logs puppet slot state and returns the slots whose command
// the game has not consumed for stuckTicks ticks.
func (b *bot) reportPuppets() []puppet.SlotStatus {
	st := b.sess.Puppets().Status()
	b.log.Debug("puppets", zap.Uint16("local_scene", st.LocalScene), zap.Int("in_scene", st.InScene),
		zap.Int("waiting", st.Waiting), zap.Int("assigned", len(st.Slots)))
	stuck := st.Stuck(stuckTicks)
	for _, ss := range stuck {
		b.log.Warn("puppet command stuck", zap.Int("slot", ss.Slot), zap.String("peer", ss.Peer),
			zap.Stringer("command", ss.Command), zap.Int("pending_ticks", ss.PendingTicks))
	}
	return stuck
}

func (b *bot) grantProgress() {
	if b.rng.IntN(2) == 0 {
		bit := b.rng.IntN(20)
		b.game.Set(emu.FieldMoves, b.game.Get(emu.FieldMoves)|1<<bit)
		b.log.Info("granted move", zap.Int("bit", bit))
		return
	}
	flags := b.game.Bytes(emu.FieldJiggyFlags)
	if len(flags) == 0 {
		return
	}
	bit := b.rng.IntN(len(flags) * 8)
	flags[bit/8] |= 1 << (bit % 8)
	b.game.SetBytes(emu.FieldJiggyFlags, flags)
	b.log.Info("granted jiggy", zap.Int("bit", bit))
}

// link forwards session sends to the current connection.
type link struct{ conn *ws.Conn }

func (l *link) SendReliable(group string, payload any) error {
	if l.conn == nil {
		return ws.ErrConnClosed
	}
	return l.conn.SendReliable(group, payload)
}

func (l *link) SendUnreliable(group string, payload any) error {
	if l.conn == nil {
		return ws.ErrConnClosed
	}
	return l.conn.SendUnreliable(group, payload)
}

func (l *link) SendToPeer(peer, group string, payload any) error {
	if l.conn == nil {
		return ws.ErrConnClosed
	}
	return l.conn.SendToPeer(peer, group, payload)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
