package core

import (
	"net/http"
	"time"
)

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

// HandleHealth reports process liveness and database reachability. A failed
// ping degrades the response to 503 so load balancers rotate the instance
// out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Service:  s.Config.Service,
		Database: "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			s.Logger.Error("health check database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	JSON(w, r, status, resp)
}
