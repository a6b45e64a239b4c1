package server

import (
	"net/http"
	"time"
)

// heartbeatInterval keeps idle streams alive through proxies.
const heartbeatInterval = 30 * time.Second

// handleStream attaches the single event-stream subscriber for a
// conversation or a manual indexing run (job ids are valid stream keys). A
// newer subscriber displaces this one (its channel closes); a client
// disconnect unsubscribes. Delivery is best-effort with no buffering across
// reconnects — definitive state is in history.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.convos.Get(r.Context(), id); err != nil {
		if _, isIndexRun := s.indexJobs.Load(id); !isIndexRun {
			s.writeFailure(w, err)
			return
		}
	}

	events := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(id, events)

	out := newSSEWriter(w)
	if err := out.start(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := out.writeComment("keep-alive"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Displaced by a newer subscriber or hub drained.
				return
			}
			if err := out.writeEvent(string(ev.Type), ev); err != nil {
				return
			}
		}
	}
}
