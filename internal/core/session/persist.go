package session

import (
	"io"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/storage/savegame"
)

// Save writes the world and every pending game-logic command. Session-internal commands
// such as checkpoints are not saved; Load schedules them again.
func (s *Session) Save(w io.Writer) error {
	pending := s.queue.Pending()
	cmds := make([]command.GameLogic, 0, len(pending))
	for _, cmd := range pending {
		if gl, ok := cmd.(command.GameLogic); ok {
			cmds = append(cmds, gl)
		}
	}
	return savegame.Write(w, savegame.Snapshot{
		SessionID: s.id,
		Now:       s.queue.Now(),
		World:     s.world,
		Commands:  cmds,
	})
}

// Load replaces the session state with a savegame. The load is all or nothing: a savegame
// that fails to decode leaves the running session untouched.
func (s *Session) Load(r io.Reader) error {
	snap, err := savegame.Read(r)
	if err != nil {
		return err
	}
	s.Reset(snap.Now, snap.World)
	for _, cmd := range snap.Commands {
		if err := s.queue.Enqueue(cmd); err != nil {
			s.logger.Warn("saved command rejected",
				log.Uint64("due", uint64(cmd.DueTime())),
				log.Error(err))
		}
	}
	s.logger.Info("savegame loaded",
		log.String("saved_session", snap.SessionID),
		log.Int("commands", len(snap.Commands)))
	return nil
}
