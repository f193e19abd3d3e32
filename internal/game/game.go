// Package game is a small authoritative demo world driven by the netsync
// connection manager: each peer owns one entity with a Position moved by
// Move inputs, and peers chat over an ordered reliable channel.
package game

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/replication"
	"github.com/vango-dev/netsync/pkg/server"
)

// Replicator is the part of *server.Manager the game drives.
type Replicator interface {
	PrepareEntitySpawn(e protocol.Entity, group protocol.GroupID, target protocol.NetworkTarget)
	PrepareEntityDespawn(e protocol.Entity, group protocol.GroupID, target protocol.NetworkTarget)
	PrepareComponentInsert(e protocol.Entity, group protocol.GroupID, comp protocol.Component, target protocol.NetworkTarget)
	PrepareComponentUpdate(e protocol.Entity, group protocol.GroupID, comp protocol.Component, tick protocol.Tick, target protocol.NetworkTarget)
	BufferMessage(msg protocol.Message, channel protocol.ChannelKind, target protocol.NetworkTarget) error
}

// Config bounds the play field. Positions are clamped to
// [-HalfWidth, HalfWidth] x [-HalfHeight, HalfHeight].
type Config struct {
	HalfWidth  int32
	HalfHeight int32

	// ChatChannel carries server announcements.
	ChatChannel protocol.ChannelKind
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{HalfWidth: 100, HalfHeight: 100}
}

// Stats summarizes the game state.
type Stats struct {
	Players  int `json:"players"`
	Entities int `json:"entities"`
	Chats    int `json:"chats"`
}

// Game owns the world. It is driven by the host's tick goroutine and is
// not safe for concurrent use.
type Game struct {
	cfg    Config
	world  *replication.MemoryWorld
	rep    Replicator
	logger *slog.Logger

	players map[protocol.PeerID]protocol.Entity
	chats   int
}

// New creates a game replicating through rep.
func New(cfg Config, rep Replicator, logger *slog.Logger) *Game {
	if logger == nil {
		logger = slog.Default()
	}
	return &Game{
		cfg:     cfg,
		world:   replication.NewMemoryWorld(),
		rep:     rep,
		logger:  logger.With("component", "game"),
		players: make(map[protocol.PeerID]protocol.Entity),
	}
}

// World returns the world replicated diffs from peers are applied to.
func (g *Game) World() *replication.MemoryWorld {
	return g.world
}

// Player returns the entity owned by peer.
func (g *Game) Player(peer protocol.PeerID) (protocol.Entity, bool) {
	e, ok := g.players[peer]
	return e, ok
}

// Position returns the position of peer's entity.
func (g *Game) Position(peer protocol.PeerID) (Position, bool) {
	e, ok := g.players[peer]
	if !ok {
		return Position{}, false
	}
	c, ok := g.world.Get(e, KindPosition)
	if !ok {
		return Position{}, false
	}
	return *c.(*Position), true
}

// Stats returns a summary of the game state.
func (g *Game) Stats() Stats {
	return Stats{Players: len(g.players), Entities: g.world.Len(), Chats: g.chats}
}

// groupOf puts every entity in its own replication group.
func groupOf(e protocol.Entity) protocol.GroupID {
	return protocol.GroupID(e)
}

// Join spawns the entity of a newly connected peer, announces it to the
// other peers and sends the newcomer a snapshot of every entity. Joining
// twice changes nothing.
func (g *Game) Join(peer protocol.PeerID) error {
	if _, ok := g.players[peer]; ok {
		return nil
	}
	e := g.world.Spawn()
	pos := &Position{}
	owner := &Owner{Peer: peer}
	g.world.Insert(e, pos)
	g.world.Insert(e, owner)
	g.players[peer] = e

	others := protocol.ToAllExcept(peer)
	g.rep.PrepareEntitySpawn(e, groupOf(e), others)
	g.rep.PrepareComponentInsert(e, groupOf(e), pos, others)
	g.rep.PrepareComponentInsert(e, groupOf(e), owner, others)

	g.snapshot(peer)

	g.logger.Info("player joined", "peer", peer, "entity", e)
	return g.rep.BufferMessage(&Chat{Text: fmt.Sprintf("peer %d joined", peer)}, g.cfg.ChatChannel, others)
}

// snapshot replicates every entity of the world to peer.
func (g *Game) snapshot(peer protocol.PeerID) {
	only := protocol.ToSingle(peer)
	for _, e := range g.world.Entities() {
		g.rep.PrepareEntitySpawn(e, groupOf(e), only)
		for _, c := range g.world.Components(e) {
			g.rep.PrepareComponentInsert(e, groupOf(e), c, only)
		}
	}
}

// Leave despawns the entity of a disconnected peer.
func (g *Game) Leave(peer protocol.PeerID) error {
	e, ok := g.players[peer]
	if !ok {
		return nil
	}
	delete(g.players, peer)
	g.world.Despawn(e)
	g.rep.PrepareEntityDespawn(e, groupOf(e), protocol.ToAll())

	g.logger.Info("player left", "peer", peer, "entity", e)
	return g.rep.BufferMessage(&Chat{Text: fmt.Sprintf("peer %d left", peer)}, g.cfg.ChatChannel, protocol.ToAll())
}

// HandleEvents reacts to one Receive pass. Chat is relayed by the
// connection manager itself; the game only counts it.
func (g *Game) HandleEvents(ev *server.ServerEvents) error {
	for _, peer := range ev.Disconnections {
		if err := g.Leave(peer); err != nil {
			return err
		}
	}
	for _, peer := range ev.PeerIDs() {
		pe := ev.For(peer)
		for _, m := range pe.MessagesOfKind(KindChat) {
			chat := m.(*Chat)
			g.chats++
			g.logger.Debug("chat", "peer", peer, "text", chat.Text)
		}
		if len(pe.ActionInputs) > 0 {
			g.logger.Debug("ignoring action inputs", "peer", peer, "count", len(pe.ActionInputs))
		}
	}
	return nil
}

// Step applies one tick of inputs. Moved positions are replicated as
// updates to every peer. Inputs are applied in peer order so a tick is
// deterministic.
func (g *Game) Step(tick protocol.Tick, inputs []server.PeerInput) {
	slices.SortFunc(inputs, func(a, b server.PeerInput) int {
		switch {
		case a.Peer < b.Peer:
			return -1
		case a.Peer > b.Peer:
			return 1
		}
		return 0
	})
	for _, in := range inputs {
		mv, ok := in.Input.(*Move)
		if !ok || mv == nil {
			continue
		}
		e, ok := g.players[in.Peer]
		if !ok {
			continue
		}
		cur, _ := g.Position(in.Peer)
		next := &Position{
			X: clamp(cur.X+int32(sign(mv.DX)), g.cfg.HalfWidth),
			Y: clamp(cur.Y+int32(sign(mv.DY)), g.cfg.HalfHeight),
		}
		if *next == cur {
			continue
		}
		g.world.Insert(e, next)
		g.rep.PrepareComponentUpdate(e, groupOf(e), next, tick, protocol.ToAll())
	}
}

func sign(v int8) int8 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp(v, half int32) int32 {
	if half <= 0 {
		return v
	}
	return max(-half, min(half, v))
}
