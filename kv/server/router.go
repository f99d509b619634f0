package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func createRouter(s *Server) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", s.welcome).Methods("GET")
	router.HandleFunc("/_session", s.session).Methods("POST")
	router.HandleFunc("/_all_dbs", s.listDatabases).Methods("GET")
	router.HandleFunc("/_uuids", s.uuids).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/_replicator", s.writable(s.submitReplication)).Methods("POST")
	router.HandleFunc("/_replicator/{id}", s.writable(s.cancelReplication)).Methods("DELETE")

	router.HandleFunc("/{db}", s.getDatabase).Methods("GET")
	router.HandleFunc("/{db}", s.writable(s.createDatabase)).Methods("PUT")
	router.HandleFunc("/{db}", s.writable(s.dropDatabase)).Methods("DELETE")
	router.HandleFunc("/{db}", s.writable(s.postDocument)).Methods("POST")

	router.HandleFunc("/{db}/_all_docs", s.allDocs).Methods("GET")
	router.HandleFunc("/{db}/_changes", s.changes).Methods("GET")
	router.HandleFunc("/{db}/_query", s.query).Methods("POST")
	router.HandleFunc("/{db}/_bulk_docs", s.writable(s.bulkDocs)).Methods("POST")
	router.HandleFunc("/{db}/_purge", s.writable(s.purge)).Methods("POST")

	router.HandleFunc("/{db}/{id}", s.getDocument).Methods("GET")
	router.HandleFunc("/{db}/{id}", s.writable(s.putDocument)).Methods("PUT")
	router.HandleFunc("/{db}/{id}", s.writable(s.deleteDocument)).Methods("DELETE")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.rd.JSON(w, http.StatusNotFound, errorBody{Error: "missing"})
	})
	return router
}
