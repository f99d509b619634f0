package server

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/pingcap-incubator/tinydoc/kv/query"
	"github.com/pingcap-incubator/tinydoc/kv/replication"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const maxBodySize = 64 << 20

type errorBody struct {
	Error string `json:"error"`
}

type okBody struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id,omitempty"`
	Rev string `json:"rev,omitempty"`
}

// errorStatus maps an error to the status code reported to clients.
func errorStatus(err error) int {
	switch cause := errors.Cause(err); cause.(type) {
	case *transaction.ErrDatabaseNotFound, *transaction.ErrDocumentNotFound:
		return http.StatusNotFound
	case *transaction.ErrInvalidArgument, *query.ErrInvalidIndex:
		return http.StatusBadRequest
	case *transaction.ErrDatabaseExists:
		return http.StatusPreconditionFailed
	case *replication.ErrJobActive:
		return http.StatusConflict
	case *storage.ErrStoreUnavailable:
		return http.StatusInternalServerError
	default:
		switch cause {
		case query.ErrMissingRangeBounds:
			return http.StatusBadRequest
		case storage.ErrConflict:
			return http.StatusConflict
		case storage.ErrReadOnly:
			return http.StatusForbidden
		case context.Canceled, context.DeadlineExceeded:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.rd.JSON(w, status, errorBody{Error: errors.Cause(err).Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.rd.JSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// readJSON decodes a request body. Malformed input is an invalid argument.
func readJSON(r io.ReadCloser, data interface{}) error {
	defer r.Close()

	b, err := ioutil.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return errors.WithStack(err)
	}
	if err = json.Unmarshal(b, data); err != nil {
		return &transaction.ErrInvalidArgument{Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// intParam parses a non-negative integer query parameter, returning def when it is absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &transaction.ErrInvalidArgument{Reason: "invalid " + name + " parameter"}
	}
	return n, nil
}

func boolParam(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}

// keyParam reads an id bound. Bounds are JSON strings; a bare value is taken literally.
func keyParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" || v[0] != '"' {
		return v, nil
	}
	var key string
	if err := json.Unmarshal([]byte(v), &key); err != nil {
		return "", &transaction.ErrInvalidArgument{Reason: "invalid " + name + " parameter"}
	}
	return key, nil
}
