// Package client runs one player's side of a lobby: it reconciles game memory
// with the mirrored progress store every tick and applies updates from peers.
package client

import (
	"go.uber.org/zap"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
	"bkonline.net/internal/puppet"
)

// Transport sends SYNC groups to the lobby.
type Transport interface {
	SendReliable(group string, payload any) error
	SendUnreliable(group string, payload any) error
	SendToPeer(peer, group string, payload any) error
}

// Session owns the mirror store and everything that reads or writes game
// memory. Tick and Handle must be called from a single goroutine; Run does that.
type Session struct {
	log     *zap.Logger
	game    *emu.Game
	net     Transport
	store   *progress.Store
	puppets *puppet.Manager

	lobby string
	self  string

	level       progress.LevelID
	scene       progress.SceneID
	objectNotes int
	placed      int

	needDeleteActors bool
	needDeleteVoxels bool
}

func NewSession(game *emu.Game, net Transport, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		log:     log.Named("session"),
		game:    game,
		net:     net,
		store:   progress.NewStore(),
		puppets: puppet.NewManager(game, net, log),
	}
}

// Store is the mirror of lobby progress.
func (s *Session) Store() *progress.Store { return s.store }

func (s *Session) Puppets() *puppet.Manager { return s.puppets }

// Location is the level and scene the tracker last saw.
func (s *Session) Location() (progress.LevelID, progress.SceneID) { return s.level, s.scene }

// Joined starts a fresh mirror for a newly joined lobby and asks for the
// lobby's stored progress.
func (s *Session) Joined() {
	s.store = progress.NewStore()
	s.send(protocol.GroupRequestStorage, nil)
}

// Connected runs on every (re)connect: puppets are torn down and peers learn
// where we are.
func (s *Session) Connected() {
	s.puppets.Reset()
	if !s.game.Playing() {
		return
	}
	s.sendLocation()
}

// PeerJoined queues a puppet for a new peer.
func (s *Session) PeerJoined(peer string) { s.puppets.Register(peer) }

// PeerLeft removes a peer's puppet.
func (s *Session) PeerLeft(peer string) { s.puppets.Unregister(peer) }

func (s *Session) send(group string, payload any) {
	if err := s.net.SendReliable(group, payload); err != nil {
		s.log.Warn("send failed", zap.String("group", group), zap.Error(err))
	}
}

func (s *Session) sendLocation() {
	s.send(protocol.GroupSyncLocation, protocol.LocationPayload{Level: uint8(s.level), Scene: uint16(s.scene)})
}

// Tick runs one frame of synchronization.
func (s *Session) Tick() {
	if !s.game.Playing() || s.game.InCutscene() {
		for _, f := range emu.CutsceneSkips {
			s.game.Set(f, emu.CutsceneSkipValue)
		}
		return
	}

	transit := s.game.TransitionState()
	scene := progress.SceneID(s.game.Scene())
	inTransit := s.game.InTransit()
	loading := s.game.Loading()

	if s.level != progress.LevelGruntildasLair && s.level != progress.LevelSpiralMountain {
		s.game.Set(emu.FieldBetaMenu, 1)
	}

	s.trackScene(scene)

	s.syncGameFlags()
	s.syncHoneycombs()
	s.syncJiggies()
	s.syncTokens()
	s.syncMoves()
	s.syncLevelEvents()
	s.syncSceneEvents()
	s.collectMailboxes()
	s.applyPermanence()
	s.syncNoteTotals()

	if loading {
		s.puppets.SetLocalScene(puppet.SceneUnknown)
	} else {
		s.puppets.SetLocalScene(uint16(scene))
	}
	s.puppets.Tick(!inTransit && !loading && s.scene != progress.SceneUnknown)

	if transit != 0 {
		return
	}
	s.despawnActors()
	s.despawnVoxels()
}
