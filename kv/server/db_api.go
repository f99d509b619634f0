package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap/errors"
)

const maxUUIDs = 100

func (s *Server) welcome(w http.ResponseWriter, r *http.Request) {
	s.rd.JSON(w, http.StatusOK, map[string]string{
		"tinydoc": "Welcome",
		"version": Version,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	name := s.conf.Username
	if name == "" {
		name = "admin"
	}
	s.rd.JSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"name":  name,
		"roles": []string{"admin"},
	})
}

func (s *Server) uuids(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", 1)
	if err != nil || count < 1 || count > maxUUIDs {
		s.badRequest(w, "invalid count parameter")
		return
	}
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := newID()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ids = append(ids, id)
	}
	s.rd.JSON(w, http.StatusOK, map[string][]string{"uuids": ids})
}

// newID returns a time ordered id for documents posted without one.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return id.String(), nil
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.ListDatabases(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, names)
}

// databaseName returns the {db} path variable, or writes a 400 when it is not a valid name.
func (s *Server) databaseName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := mux.Vars(r)["db"]
	if !document.ValidDatabaseName(name) {
		s.badRequest(w, "Invalid database name")
		return "", false
	}
	return name, true
}

func (s *Server) getDatabase(w http.ResponseWriter, r *http.Request) {
	name, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	rec, err := s.engine.GetDatabase(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, rec)
}

// createDatabase handles PUT /{db}?indexes=a,b. Without the parameter the configured default indexes are declared.
func (s *Server) createDatabase(w http.ResponseWriter, r *http.Request) {
	name, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	indexes := s.conf.DefaultIndexes
	if v, ok := r.URL.Query()["indexes"]; ok {
		indexes = nil
		for _, part := range strings.Split(strings.Join(v, ","), ",") {
			if part = strings.TrimSpace(part); part != "" {
				indexes = append(indexes, part)
			}
		}
	}
	if _, err := s.engine.CreateDatabase(r.Context(), name, indexes); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusCreated, okBody{OK: true})
}

func (s *Server) dropDatabase(w http.ResponseWriter, r *http.Request) {
	name, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	if name == document.ReplicatorDB {
		s.badRequest(w, "the replicator database cannot be dropped")
		return
	}
	if err := s.engine.DropDatabase(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, okBody{OK: true})
}
