package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/pingcap/log"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

func (s *Server) middleware(h http.Handler) http.Handler {
	n := negroni.New(negroni.NewRecovery())
	n.Use(negroni.HandlerFunc(accessLog))
	if s.conf.AuthEnabled() {
		n.Use(negroni.HandlerFunc(s.basicAuth))
	}
	n.UseHandler(h)
	return n
}

func accessLog(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)
	status := http.StatusOK
	if rw, ok := w.(negroni.ResponseWriter); ok && rw.Status() != 0 {
		status = rw.Status()
	}
	elapsed := time.Since(start)
	requestCounter.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
	log.Info("http request",
		zap.String("method", r.Method), zap.String("path", r.URL.Path),
		zap.Int("status", status), zap.Duration("elapsed", elapsed))
}

func (s *Server) basicAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	user, pass, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(s.conf.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(s.conf.Password)) == 1 {
		next(w, r)
		return
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="tinydoc"`)
	s.rd.JSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}

// writable rejects the wrapped mutation when the server runs read-only.
func (s *Server) writable(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.conf.ReadOnly {
			s.rd.JSON(w, http.StatusForbidden, errorBody{Error: "Read only operations only"})
			return
		}
		h(w, r)
	}
}
