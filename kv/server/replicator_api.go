package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/replication"
)

func (s *Server) submitReplication(w http.ResponseWriter, r *http.Request) {
	var req replication.Request
	if err := readJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.replicator.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusCreated, okBody{OK: true, ID: job.ID, Rev: document.Rev})
}

func (s *Server) cancelReplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !document.ValidID(id) {
		s.badRequest(w, "Invalid id")
		return
	}
	if _, err := s.replicator.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, okBody{OK: true, ID: id, Rev: document.Rev})
}
