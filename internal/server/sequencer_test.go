package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
)

func accept(out *[]command.Player) func(command.Player) error {
	return func(c command.Player) error {
		*out = append(*out, c)
		return nil
	}
}

func TestSequencer_AssignsSerialAndDue(t *testing.T) {
	seq := NewSequencer(3)
	var got []command.Player

	first := &commands.Move{}
	first.Due = 1000
	require.NoError(t, seq.Sequence(first, accept(&got)))
	seq.Advance(nil)
	require.NoError(t, seq.Sequence(&commands.Move{}, accept(&got)))

	require.Len(t, got, 2)
	serial, ok := got[0].OrderingSerial()
	assert.True(t, ok)
	assert.Equal(t, uint64(0), serial)
	// Proposed due times are ignored.
	assert.Equal(t, command.Time(3), got[0].DueTime())

	serial, _ = got[1].OrderingSerial()
	assert.Equal(t, uint64(1), serial)
	assert.Equal(t, command.Time(4), got[1].DueTime())
	assert.Equal(t, uint64(2), seq.Issued())
}

func TestSequencer_RejectsSequencedCommands(t *testing.T) {
	seq := NewSequencer(1)
	cmd := &commands.Move{}
	require.NoError(t, cmd.AssignSerial(5))

	called := false
	err := seq.Sequence(cmd, func(command.Player) error { called = true; return nil })
	assert.ErrorIs(t, err, command.ErrSerialAlreadyAssigned)
	assert.False(t, called)
}

func TestSequencer_FailedAcceptKeepsFloor(t *testing.T) {
	seq := NewSequencer(2)
	boom := errors.New("boom")

	require.ErrorIs(t, seq.Sequence(&commands.Move{}, func(command.Player) error { return boom }), boom)
	var got []command.Player
	require.NoError(t, seq.Sequence(&commands.Move{}, accept(&got)))

	serial, _ := got[0].OrderingSerial()
	assert.Equal(t, uint64(1), serial)
	assert.Equal(t, command.Time(2), got[0].DueTime())
}

func TestSequencer_AdvancePublishesUnderLock(t *testing.T) {
	seq := NewSequencer(0)
	var published []command.Time
	for range 3 {
		seq.Advance(func(now command.Time) { published = append(published, now) })
	}
	assert.Equal(t, []command.Time{1, 2, 3}, published)
	assert.Equal(t, command.Time(3), seq.Now())

	var got []command.Player
	require.NoError(t, seq.Sequence(&commands.Move{}, accept(&got)))
	assert.Greater(t, got[0].DueTime(), seq.Now())
}
