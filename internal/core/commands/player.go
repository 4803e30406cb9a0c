package commands

import (
	"fmt"
	"math"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/pkg/encoding"
)

var (
	_ command.Player = (*Move)(nil)
	_ command.Player = (*Attack)(nil)
	_ command.Player = (*Leave)(nil)
)

const moveVersion1 uint16 = 1

// Move shifts an object owned by the sender.
type Move struct {
	command.PlayerHeader
	Object command.ObjectID
	DX, DY int32
}

func (c *Move) TypeID() command.TypeID { return TypeMove }
func (c *Move) Version() uint16         { return moveVersion1 }

func (c *Move) Serialize(w *encoding.Writer) error {
	w.Ref(uint64(c.Object))
	w.Int32(c.DX)
	w.Int32(c.DY)
	return w.Err()
}

func (c *Move) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeMove), version, moveVersion1); err != nil {
		return err
	}
	c.Object = command.ObjectID(r.Ref())
	c.DX = r.Int32()
	c.DY = r.Int32()
	return r.Err()
}

func (c *Move) Execute(ctx command.Context) error {
	obj, err := command.Authorize(ctx, c.SenderID, c.Object)
	if err != nil {
		return err
	}
	obj.MoveBy(c.DX, c.DY)
	x, y := obj.Position()
	sink := ctx.Sync()
	sink.AppendUint64(uint64(obj.ID()))
	sink.AppendInt64(int64(x))
	sink.AppendInt64(int64(y))
	return nil
}

const (
	attackVersion1 uint16 = 1
	// v2 adds a random damage spread.
	attackVersion2 uint16 = 2
)

// Attack damages a target object. The attacker must be owned by the sender; the target
// may belong to anyone. A target reduced to zero health is destroyed.
type Attack struct {
	command.PlayerHeader
	Attacker command.ObjectID
	Target   command.ObjectID
	Damage   int32
	Spread   uint32
}

func (c *Attack) TypeID() command.TypeID { return TypeAttack }
func (c *Attack) Version() uint16         { return attackVersion2 }

func (c *Attack) Serialize(w *encoding.Writer) error {
	w.Ref(uint64(c.Attacker))
	w.Ref(uint64(c.Target))
	w.Int32(c.Damage)
	w.Uint32(c.Spread)
	return w.Err()
}

func (c *Attack) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeAttack), version, attackVersion1, attackVersion2); err != nil {
		return err
	}
	c.Attacker = command.ObjectID(r.Ref())
	c.Target = command.ObjectID(r.Ref())
	c.Damage = r.Int32()
	c.Spread = 0
	if version >= attackVersion2 {
		c.Spread = r.Uint32()
	}
	if r.Err() == nil && c.Damage < 0 {
		r.Fail(fmt.Errorf("%w: attack damage %d", command.ErrFieldOutOfRange, c.Damage))
	}
	if r.Err() == nil && c.Spread > math.MaxInt32 {
		r.Fail(fmt.Errorf("%w: attack spread %d", command.ErrFieldOutOfRange, c.Spread))
	}
	return r.Err()
}

func (c *Attack) Execute(ctx command.Context) error {
	if _, err := command.Authorize(ctx, c.SenderID, c.Attacker); err != nil {
		return err
	}
	target, ok := ctx.World().Object(c.Target)
	if !ok {
		return command.ErrMissingTargetObject
	}

	// Attacks never heal, whatever the encoded values.
	damage := max(int64(c.Damage), 0)
	if c.Spread > 0 {
		damage += int64(ctx.Random(c.Spread))
	}
	hp := int32(max(int64(target.Health())-damage, math.MinInt32))
	target.SetHealth(hp)

	sink := ctx.Sync()
	sink.AppendUint64(uint64(target.ID()))
	sink.AppendInt64(int64(hp))
	if hp <= 0 {
		sink.AppendBool(ctx.World().Destroy(target.ID()))
	}
	return nil
}

const leaveVersion1 uint16 = 1

// Leave deactivates the sender. Commands the player issued earlier but which execute
// afterwards fail authorization and become no-ops.
type Leave struct {
	command.PlayerHeader
}

func (c *Leave) TypeID() command.TypeID { return TypeLeave }
func (c *Leave) Version() uint16         { return leaveVersion1 }

func (c *Leave) Serialize(w *encoding.Writer) error { return w.Err() }

func (c *Leave) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeLeave), version, leaveVersion1); err != nil {
		return err
	}
	return r.Err()
}

func (c *Leave) Execute(ctx command.Context) error {
	p, ok := ctx.World().Player(c.SenderID)
	if !ok || !p.Active() {
		return command.ErrStaleAuthorization
	}
	p.SetActive(false)
	ctx.Sync().AppendUint64(uint64(p.ID()))
	return nil
}
