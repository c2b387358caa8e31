package api

import (
	"fmt"
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 while the process serves requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// readyHandler checks Raft leadership, the store and the bus
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.raft != nil {
		if s.raft.IsLeader() {
			checks["raft"] = "leader"
		} else if leaderAddr := s.raft.LeaderAddr(); leaderAddr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	}

	if s.store != nil {
		if _, err := s.store.ListServices(); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
		if message == "" {
			message = "Storage not initialized"
		}
	}

	if s.bus != nil {
		checks["bus"] = "ok"
	} else {
		checks["bus"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
