package ws

import (
	"log"
	"time"

	"github.com/agora/forum-chat/internal/metrics"
)

// StartHeartbeat launches the liveness sweep. Each tick evicts every
// session that has not produced a frame since the previous tick, then
// clears the flag and pings the survivors. One missed interval is enough
// to be evicted.
func StartHeartbeat(srv *Server) {
	go func() {
		ticker := time.NewTicker(srv.config.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-srv.done:
				return
			case <-ticker.C:
				srv.sweep()
			}
		}
	}()
}

func (srv *Server) sweep() {
	for _, s := range srv.registry.Snapshot() {
		if !s.Alive() {
			log.Printf("ws: heartbeat eviction session=%s", s.ID)
			srv.Terminate(s)
			metrics.HeartbeatEvictions.Inc()
			continue
		}
		s.SetAlive(false)
		if err := s.Ping(); err != nil {
			log.Printf("ws: ping failed session=%s: %v", s.ID, err)
			srv.Terminate(s)
		}
	}
}
