package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Stats is the live snapshot served by /stats. Fields are functions so the
// server never holds references into engine internals.
type Stats struct {
	Sessions      func() int
	ActiveStreams func() int
	CacheBytes    func() int64
	CacheEntries  func() int
}

// Server is a plain HTTP liveness endpoint. Hosting platforms ping /health
// to keep the process alive; /stats is for humans.
type Server struct {
	addr    string
	stats   Stats
	started time.Time
}

func NewServer(addr string, stats Stats) *Server {
	return &Server{addr: addr, stats: stats, started: time.Now()}
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("health server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.stats.Sessions != nil {
		out["sessions"] = s.stats.Sessions()
	}
	if s.stats.ActiveStreams != nil {
		out["active_streams"] = s.stats.ActiveStreams()
	}
	if s.stats.CacheBytes != nil {
		out["cache_bytes"] = s.stats.CacheBytes()
	}
	if s.stats.CacheEntries != nil {
		out["cache_entries"] = s.stats.CacheEntries()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
