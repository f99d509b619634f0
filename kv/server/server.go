// Package server exposes databases, documents, change feeds, index queries and replication jobs over a CouchDB
// flavoured HTTP API.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/replication"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

// Version is reported by the welcome endpoint.
const Version = "0.1.0"

// Server is the HTTP face of tinydoc. Handlers translate requests into engine, query, change feed and
// replicator calls.
type Server struct {
	conf       *config.Config
	engine     *transaction.Engine
	replicator *replication.Replicator
	rd         *render.Render

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(conf *config.Config, engine *transaction.Engine, replicator *replication.Replicator) *Server {
	return &Server{
		conf:       conf,
		engine:     engine,
		replicator: replicator,
		rd:         render.New(render.Options{}),
	}
}

// Handler returns the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	return s.middleware(createRouter(s))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", s.conf.Addr)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", ln.Addr().String()),
		zap.Bool("readonly", s.conf.ReadOnly), zap.Bool("auth", s.conf.AuthEnabled()))
	return nil
}

// Addr is the address the server listens on once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.conf.Addr
	}
	return s.listener.Addr().String()
}

// Stop waits for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return errors.WithStack(s.httpServer.Shutdown(ctx))
}
