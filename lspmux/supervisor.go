package lspmux

import (
	"time"
)

// supervise watches one server for subprocess death and drives the periodic
// restart schedule. It runs for the registry's lifetime.
func (r *Registry) supervise(srv *Server) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if srv.cfg.RestartInterval > 0 {
		ticker = time.NewTicker(time.Duration(srv.cfg.RestartInterval) * time.Minute)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		// Snapshot the disconnect channel for the current connection.
		disconnect := srv.DisconnectNotify()
		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			if srv.Status() != StatusReady {
				continue
			}
			r.logger.Info("scheduled restart", "server", srv.id)
			r.restartServer(srv)
		case <-disconnect:
			if srv.stopping.Load() || srv.Status() == StatusFailed {
				// Intentional shutdown or terminal state.
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}
			switch srv.Status() {
			case StatusReady, StatusInitializing:
				r.logger.Warn("server connection lost", "server", srv.id)
				r.restartServer(srv)
			default:
				// start() owns the state; wait for it to settle.
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}
