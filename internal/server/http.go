package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol/websocket"
)

// Status is the JSON body served on /status.
type Status struct {
	Session string             `json:"session"`
	Started bool               `json:"started"`
	Now     command.Time       `json:"now"`
	Issued  uint64             `json:"issued"`
	Links   int                `json:"links"`
	Players []command.PlayerID `json:"players"`
}

// Status reads only state guarded by locks, so it may be called while Run is ticking.
func (s *Server) Status() Status {
	s.mu.RLock()
	links := len(s.links)
	s.mu.RUnlock()

	started := false
	select {
	case <-s.ready:
		started = true
	default:
	}
	return Status{
		Session: s.sess.ID(),
		Started: started,
		Now:     s.seq.Now(),
		Issued:  s.seq.Issued(),
		Links:   links,
		Players: s.players,
	}
}

func (s *Server) httpHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.NewHandler(s.cfg.Network.Link, s.logger, func(c *websocket.Connection) {
		s.ServeLink(ctx, c)
	}))
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.logger.Warn("status response failed", log.Error(err))
	}
}
