// Package session ties the command queue, the sync stream and the simulation state
// together. One Session is one independent simulation; a process may run many.
package session

import (
	"github.com/google/uuid"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/events/bus"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/scheduler"
	"github.com/zeusync/lockstep/internal/core/syncstream"
	"github.com/zeusync/lockstep/internal/core/world"
)

var _ command.Context = (*Session)(nil)

// Config holds the simulation-side settings. Every peer of a session must use the same
// ExchangeInterval, otherwise their checkpoints land on different ticks.
type Config struct {
	Scheduler        scheduler.Config `yaml:"scheduler"`
	ExchangeInterval command.Time     `yaml:"exchange_interval"`
	RetainBytes      int              `yaml:"retain_bytes"`
	CheckpointWindow int              `yaml:"checkpoint_window"`
	InboxCapacity    int              `yaml:"inbox_capacity"`
}

func DefaultConfig() Config {
	return Config{
		Scheduler:        scheduler.Config{Buckets: scheduler.DefaultBuckets},
		ExchangeInterval: 100,
		RetainBytes:      4096,
		CheckpointWindow: 16,
		InboxCapacity:    1024,
	}
}

// Recorder receives every authoritative player command accepted by the session, in
// acceptance order. Replay writers implement it.
type Recorder interface {
	Record(cmd command.Player) error
}

// CheckpointFunc is called on the simulation goroutine after each local checkpoint. It
// typically submits a SyncMarker carrying the digest to the arbitrating layer.
type CheckpointFunc func(at command.Time, digest uint64)

type Session struct {
	id       string
	cfg      Config
	world    *world.World
	queue    *scheduler.Queue
	stream   *syncstream.Stream
	detector *syncstream.Detector
	inbox    *Inbox
	bus      bus.EventBus
	logger   log.Log

	recorder     Recorder
	onCheckpoint CheckpointFunc
}

// Option customizes a Session at construction.
type Option func(*Session)

func WithBus(b bus.EventBus) Option { return func(s *Session) { s.bus = b } }

func WithLogger(l log.Log) Option { return func(s *Session) { s.logger = l } }

func WithRecorder(r Recorder) Option { return func(s *Session) { s.recorder = r } }

func WithCheckpointFunc(fn CheckpointFunc) Option {
	return func(s *Session) { s.onCheckpoint = fn }
}

// WithID overrides the generated session id, e.g. when resuming a recorded session.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// New creates a session over w starting at time 0.
func New(cfg Config, w *world.World, opts ...Option) *Session {
	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		world: w,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	if s.bus == nil {
		s.bus = bus.New()
	}
	s.logger = s.logger.With(log.String("session", s.id))
	s.queue = scheduler.New(cfg.Scheduler, s.logger)
	s.stream = syncstream.NewStream(cfg.RetainBytes, cfg.CheckpointWindow)
	s.detector = syncstream.NewDetector(s.stream, s.bus, s.id, s.logger)
	s.inbox = NewInbox(cfg.InboxCapacity)
	s.scheduleCheckpoint(0)
	return s
}

func (s *Session) ID() string                         { return s.id }
func (s *Session) Inbox() *Inbox                      { return s.inbox }
func (s *Session) Bus() bus.EventBus                  { return s.bus }
func (s *Session) Detector() *syncstream.Detector     { return s.detector }
func (s *Session) Stream() *syncstream.Stream         { return s.stream }
func (s *Session) WorldState() *world.World           { return s.world }
func (s *Session) QueueStats() scheduler.Stats        { return s.queue.Stats() }
func (s *Session) Pending() int                       { return s.queue.Len() }
func (s *Session) PendingCommands() []command.Command { return s.queue.Pending() }

// Enqueue schedules cmd. Accepted player commands are forwarded to the recorder.
func (s *Session) Enqueue(cmd command.Command) error {
	if err := s.queue.Enqueue(cmd); err != nil {
		return err
	}
	if p, ok := cmd.(command.Player); ok && s.recorder != nil {
		if err := s.recorder.Record(p); err != nil {
			s.logger.Error("record command", log.Error(err))
		}
	}
	return nil
}

// Drain executes everything due up to until.
func (s *Session) Drain(until command.Time) (scheduler.DrainStats, error) {
	return s.queue.Drain(s, until)
}

// Tick moves every command waiting in the inbox into the queue, then drains to until.
// Commands the queue rejects are logged and dropped.
func (s *Session) Tick(until command.Time) (scheduler.DrainStats, error) {
	for _, cmd := range s.inbox.take() {
		if err := s.Enqueue(cmd); err != nil {
			s.logger.Warn("inbox command rejected",
				log.Uint64("due", uint64(cmd.DueTime())),
				log.Error(err))
		}
	}
	return s.Drain(until)
}

// Flush discards pending commands without running them.
func (s *Session) Flush() int {
	return s.queue.Flush()
}

// CurrentDigest returns the sync stream digest.
func (s *Session) CurrentDigest() uint64 {
	return s.stream.Digest()
}

// Desynced reports whether a digest exchange has mismatched. The session keeps running.
func (s *Session) Desynced() bool {
	return s.detector.Desynced()
}

// Reset starts a new session segment at time at over w: pending commands are dropped and
// the sync stream and detector start over. Used for a new game or after a load.
func (s *Session) Reset(at command.Time, w *world.World) {
	dropped := s.queue.Restart(at)
	s.stream.Reset()
	s.detector.Reset()
	if w != nil {
		s.world = w
	}
	s.scheduleCheckpoint(at)
	s.logger.Info("session reset",
		log.Uint64("at", uint64(at)),
		log.Int("dropped", dropped))
	if err := s.bus.Publish(bus.NewEvent(bus.EventSessionReset, s.id, at)); err != nil {
		s.logger.Warn("session reset subscriber failed", log.Error(err))
	}
}

// scheduleCheckpoint enqueues the first checkpoint at or after from. Checkpoints are
// non-game-logic commands, so they run before any game logic due at the same tick.
func (s *Session) scheduleCheckpoint(from command.Time) {
	interval := s.cfg.ExchangeInterval
	if interval == 0 {
		return
	}
	at := (from + interval - 1) / interval * interval
	if err := s.queue.Enqueue(&command.Func{Due: at, Fn: s.checkpoint}); err != nil {
		s.logger.Error("schedule checkpoint", log.Error(err))
	}
}

func (s *Session) checkpoint(ctx command.Context) error {
	at := ctx.Now()
	digest := s.detector.Record(at)
	s.logger.Debug("checkpoint", log.Uint64("at", uint64(at)), log.Digest("digest", digest))
	if s.onCheckpoint != nil {
		s.onCheckpoint(at, digest)
	}
	return s.queue.Enqueue(&command.Func{Due: at + s.cfg.ExchangeInterval, Fn: s.checkpoint})
}
