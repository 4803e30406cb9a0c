package session

import (
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
)

func (s *Session) Now() command.Time {
	return s.queue.Now()
}

func (s *Session) World() command.World {
	return s.world
}

func (s *Session) Random(bound uint32) uint32 {
	if bound == 0 {
		return 0
	}
	v := s.world.Draw(bound)
	s.stream.AppendUint64(uint64(v))
	return v
}

func (s *Session) Sync() command.SyncSink {
	return s.stream
}

func (s *Session) ExchangeDigest(peer command.PlayerID, at command.Time, remote uint64) {
	s.detector.Compare(peer, at, remote)
}

func (s *Session) Log() log.Log {
	return s.logger
}
