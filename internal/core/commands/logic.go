package commands

import (
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/pkg/encoding"
)

var (
	_ command.GameLogic = (*Regenerate)(nil)
	_ command.GameLogic = (*Destroy)(nil)
)

const regenerateVersion1 uint16 = 1

// Regenerate heals an object up to Max and, while Period is non-zero, schedules its own
// successor Period ticks later. The chain ends when the object is gone.
type Regenerate struct {
	command.Header
	Object command.ObjectID
	Amount int32
	Max    int32
	Period command.Time
}

func (c *Regenerate) TypeID() command.TypeID { return TypeRegenerate }
func (c *Regenerate) Version() uint16         { return regenerateVersion1 }

func (c *Regenerate) Serialize(w *encoding.Writer) error {
	w.Ref(uint64(c.Object))
	w.Int32(c.Amount)
	w.Int32(c.Max)
	w.Uint64(uint64(c.Period))
	return w.Err()
}

func (c *Regenerate) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeRegenerate), version, regenerateVersion1); err != nil {
		return err
	}
	c.Object = command.ObjectID(r.Ref())
	c.Amount = r.Int32()
	c.Max = r.Int32()
	c.Period = command.Time(r.Uint64())
	return r.Err()
}

func (c *Regenerate) Execute(ctx command.Context) error {
	obj, ok := ctx.World().Object(c.Object)
	if !ok {
		return command.ErrMissingTargetObject
	}
	hp := obj.Health() + c.Amount
	if hp > c.Max {
		hp = c.Max
	}
	obj.SetHealth(hp)
	ctx.Sync().AppendUint64(uint64(obj.ID()))
	ctx.Sync().AppendInt64(int64(hp))

	if c.Period == 0 {
		return nil
	}
	next := *c
	next.Due = c.Due + c.Period
	return ctx.Enqueue(&next)
}

const destroyVersion1 uint16 = 1

// Destroy removes an object from the world.
type Destroy struct {
	command.Header
	Object command.ObjectID
}

func (c *Destroy) TypeID() command.TypeID { return TypeDestroy }
func (c *Destroy) Version() uint16         { return destroyVersion1 }

func (c *Destroy) Serialize(w *encoding.Writer) error {
	w.Ref(uint64(c.Object))
	return w.Err()
}

func (c *Destroy) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeDestroy), version, destroyVersion1); err != nil {
		return err
	}
	c.Object = command.ObjectID(r.Ref())
	return r.Err()
}

func (c *Destroy) Execute(ctx command.Context) error {
	if !ctx.World().Destroy(c.Object) {
		return command.ErrMissingTargetObject
	}
	ctx.Sync().AppendUint64(uint64(c.Object))
	return nil
}
