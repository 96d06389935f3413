package manager

import (
	"time"

	"tutor/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	state, lastErr := m.state, m.lastErr
	m.mu.RUnlock()

	resp := types.StatusResponse{
		State:           string(state),
		Backend:         m.cfg.Opener.Name(),
		Inflight:        m.gate.inflight(),
		QueueLen:        m.gate.queued(),
		MaxQueueDepth:   cap(m.gate.queueCh),
		LastError:       lastErr,
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix:  time.Now().Unix(),
		LoadsTotal:      m.loadsTotal.Load(),
		InferencesTotal: m.infersTotal.Load(),
	}
	if info, gen, ok := m.handle.Current(); ok {
		resp.Ready = true
		resp.Model = &info
		resp.Generation = gen
	} else {
		resp.Generation = gen
	}
	return resp
}
