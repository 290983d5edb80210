package console

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	info, ok := s.procs.Active()
	if !ok {
		http.Error(w, `{"error":"no active process"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

type statusResponse struct {
	Hostname string `json:"hostname"`
	Text     string `json:"text"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Collect(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Hostname: st.Hostname, Text: st.Format()})
}
