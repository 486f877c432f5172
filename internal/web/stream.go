package web

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/agentgist/internal/runstate"
)

// streamRun serves a Server-Sent Events stream of a run's state. It re-reads
// the run every pollInterval and sends a "state" event whenever it changed.
// When the run is suspended or terminal it sends a final "done" event.
func (s *Server) streamRun(c *gin.Context) {
	rs, ok := s.loadRun(c)
	if !ok {
		return
	}
	id := rs.ID

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()

	last := ""
	c.Stream(func(w io.Writer) bool {
		if rs == nil {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-tick.C:
			}
			var err error
			rs, err = s.store.Get(id)
			if err != nil {
				c.SSEvent("done", "run not found")
				return false
			}
		}
		cur := rs
		rs = nil

		if fp := fingerprint(cur); fp != last {
			last = fp
			c.SSEvent("state", newRunView(cur))
		}
		if cur.State == runstate.StateAwaitingHuman || cur.State.Terminal() {
			c.SSEvent("done", string(cur.State))
			return false
		}
		return true
	})
}

// fingerprint changes whenever a run moves or records a stage result.
func fingerprint(rs *runstate.RunState) string {
	return fmt.Sprintf("%s/%d/%s", rs.State, len(rs.Results), rs.UpdatedAt)
}
