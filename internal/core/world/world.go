// Package world is a minimal in-memory simulation state used by the bundled command
// kinds. Richer games supply their own command.World.
package world

import (
	"math/rand/v2"
	"sort"

	"github.com/zeusync/lockstep/internal/core/command"
)

var (
	_ command.World       = (*World)(nil)
	_ command.Object      = (*Object)(nil)
	_ command.Participant = (*Player)(nil)
)

type Object struct {
	id     command.ObjectID
	owner  command.PlayerID
	x, y   int32
	health int32
}

func (o *Object) ID() command.ObjectID     { return o.id }
func (o *Object) Owner() command.PlayerID  { return o.owner }
func (o *Object) Position() (int32, int32) { return o.x, o.y }
func (o *Object) Health() int32            { return o.health }
func (o *Object) SetHealth(hp int32)       { o.health = hp }

func (o *Object) MoveBy(dx, dy int32) {
	o.x += dx
	o.y += dy
}

type Player struct {
	id     command.PlayerID
	active bool
}

func (p *Player) ID() command.PlayerID  { return p.id }
func (p *Player) Active() bool          { return p.active }
func (p *Player) SetActive(active bool) { p.active = active }

// World holds objects, players and the seeded RNG. Object ids are never reused.
type World struct {
	seed    uint64
	src     *rand.PCG
	rng     *rand.Rand
	objects map[command.ObjectID]*Object
	players map[command.PlayerID]*Player
	nextID  command.ObjectID
}

func New(seed uint64) *World {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &World{
		seed:    seed,
		src:     src,
		rng:     rand.New(src),
		objects: make(map[command.ObjectID]*Object),
		players: make(map[command.PlayerID]*Player),
		nextID:  1,
	}
}

func (w *World) Seed() uint64 { return w.seed }

// Draw returns a value in [0, bound). bound must be positive.
func (w *World) Draw(bound uint32) uint32 {
	return w.rng.Uint32N(bound)
}

func (w *World) Object(id command.ObjectID) (command.Object, bool) {
	o, ok := w.objects[id]
	if !ok {
		return nil, false
	}
	return o, true
}

func (w *World) Player(id command.PlayerID) (command.Participant, bool) {
	p, ok := w.players[id]
	if !ok {
		return nil, false
	}
	return p, true
}

func (w *World) Destroy(id command.ObjectID) bool {
	if _, ok := w.objects[id]; !ok {
		return false
	}
	delete(w.objects, id)
	return true
}

// Join registers an active player. Joining twice reactivates the player.
func (w *World) Join(id command.PlayerID) {
	if p, ok := w.players[id]; ok {
		p.active = true
		return
	}
	w.players[id] = &Player{id: id, active: true}
}

// Spawn creates an object and returns its id.
func (w *World) Spawn(owner command.PlayerID, x, y, health int32) command.ObjectID {
	id := w.nextID
	w.nextID++
	w.objects[id] = &Object{id: id, owner: owner, x: x, y: y, health: health}
	return id
}

// Reserve burns an object id without creating an object. Loaders use it for references
// to objects that were already destroyed when the game was saved.
func (w *World) Reserve() command.ObjectID {
	id := w.nextID
	w.nextID++
	return id
}

// RNGState returns the serialized generator state.
func (w *World) RNGState() ([]byte, error) {
	return w.src.MarshalBinary()
}

// SetRNGState restores a state produced by RNGState.
func (w *World) SetRNGState(state []byte) error {
	return w.src.UnmarshalBinary(state)
}

// Players returns player ids in ascending order.
func (w *World) Players() []command.PlayerID {
	ids := make([]command.PlayerID, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Objects returns object ids in ascending order.
func (w *World) Objects() []command.ObjectID {
	ids := make([]command.ObjectID, 0, len(w.objects))
	for id := range w.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot describes one object for comparisons in tests and tooling.
type Snapshot struct {
	ID     command.ObjectID
	Owner  command.PlayerID
	X, Y   int32
	Health int32
}

// Snapshot lists every object in id order.
func (w *World) Snapshot() []Snapshot {
	ids := w.Objects()
	out := make([]Snapshot, len(ids))
	for i, id := range ids {
		o := w.objects[id]
		out[i] = Snapshot{ID: o.id, Owner: o.owner, X: o.x, Y: o.y, Health: o.health}
	}
	return out
}

// Generate builds the starting world of a match: every player joins and receives
// perPlayer objects laid out on a row. The result depends only on the arguments.
func Generate(seed uint64, players []command.PlayerID, perPlayer int) *World {
	w := New(seed)
	sorted := append([]command.PlayerID(nil), players...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for row, p := range sorted {
		w.Join(p)
		for i := 0; i < perPlayer; i++ {
			w.Spawn(p, int32(i)*10, int32(row)*10, 100)
		}
	}
	return w
}
