package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinydoc/kv/changes"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/query"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
)

// documentID returns the {id} path variable, or writes a 400 when it is not a valid id.
func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if !document.ValidID(id) {
		s.badRequest(w, "Invalid id")
		return "", false
	}
	return id, true
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	doc, err := s.engine.Get(r.Context(), db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, doc)
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	var doc document.Document
	if err := readJSON(r.Body, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc == nil {
		s.badRequest(w, "Invalid JSON")
		return
	}
	if err := s.engine.WriteOne(r.Context(), db, id, doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusCreated, okBody{OK: true, ID: id, Rev: document.Rev})
}

func (s *Server) postDocument(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	var doc document.Document
	if err := readJSON(r.Body, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc == nil {
		s.badRequest(w, "Invalid JSON")
		return
	}
	id := doc.ID()
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.engine.WriteOne(r.Context(), db, id, doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusCreated, okBody{OK: true, ID: id, Rev: document.Rev})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	if err := s.engine.WriteOne(r.Context(), db, id, document.Tombstone(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, okBody{OK: true, ID: id, Rev: document.Rev})
}

type bulkResult struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	Rev   string `json:"rev,omitempty"`
	Error string `json:"error,omitempty"`
}

// bulkDocs writes every document with a valid id in one transaction. Documents with an invalid id are reported
// individually and do not stop the others.
func (s *Server) bulkDocs(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	var body struct {
		Docs []document.Document `json:"docs"`
	}
	if err := readJSON(r.Body, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Docs) == 0 {
		s.badRequest(w, "Invalid docs parameter")
		return
	}

	results := make([]bulkResult, 0, len(body.Docs))
	valid := make([]document.Document, 0, len(body.Docs))
	for _, doc := range body.Docs {
		if doc == nil {
			results = append(results, bulkResult{Error: "invalid document"})
			continue
		}
		id, present := doc[document.FieldID]
		if !present {
			generated, err := newID()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			doc[document.FieldID] = generated
		}
		if !document.ValidID(doc.ID()) {
			strID, _ := id.(string)
			results = append(results, bulkResult{ID: strID, Error: "invalid _id"})
			continue
		}
		valid = append(valid, doc)
		results = append(results, bulkResult{OK: true, ID: doc.ID(), Rev: document.Rev})
	}
	if len(valid) > 0 {
		if err := s.engine.WriteBatch(r.Context(), db, valid); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.rd.JSON(w, http.StatusCreated, results)
}

func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	since, err := changes.ParseSeq(r.URL.Query().Get("since"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil || (r.URL.Query().Get("limit") != "" && limit < 1) {
		s.badRequest(w, "Invalid limit parameter")
		return
	}
	feed, err := changes.Query(r.Context(), s.engine.Storage(), db, changes.Options{
		Since:       since,
		Limit:       limit,
		IncludeDocs: boolParam(r, "include_docs"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, feed)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	var req query.Request
	if err := readJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Index == "" {
		s.badRequest(w, `Missing Parameter "index"`)
		return
	}
	if req.Limit < 0 {
		s.badRequest(w, "Invalid limit parameter")
		return
	}
	docs, err := query.Run(r.Context(), s.engine.Storage(), db, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rd.JSON(w, http.StatusOK, map[string]interface{}{"docs": docs})
}

// bookmark continues an _all_docs listing after the last id of the previous page.
type bookmark struct {
	After   string `json:"after"`
	EndKey  string `json:"endkey,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	WithDoc bool   `json:"include_docs,omitempty"`
}

func encodeBookmark(b bookmark) string {
	data, _ := json.Marshal(b)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeBookmark(s string) (bookmark, error) {
	var b bookmark
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err == nil {
		err = json.Unmarshal(data, &b)
	}
	if err != nil || b.After == "" {
		return b, &transaction.ErrInvalidArgument{Reason: "invalid bookmark"}
	}
	return b, nil
}

type allDocsResponse struct {
	*transaction.AllDocsResult
	Bookmark string `json:"bookmark,omitempty"`
}

func (s *Server) allDocs(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	var opts transaction.AllDocsOptions
	var err error
	if opts.StartKey, err = keyParam(r, "startkey"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.EndKey, err = keyParam(r, "endkey"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Limit, err = intParam(r, "limit", transaction.DefaultListLimit); err != nil || opts.Limit < 1 {
		s.badRequest(w, "Invalid limit parameter")
		return
	}
	if opts.Skip, err = intParam(r, "skip", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts.IncludeDocs = boolParam(r, "include_docs")
	if v := r.URL.Query().Get("bookmark"); v != "" {
		b, err := decodeBookmark(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		opts.After, opts.EndKey, opts.Skip = b.After, b.EndKey, 0
		if b.Limit > 0 && r.URL.Query().Get("limit") == "" {
			opts.Limit = b.Limit
		}
		opts.IncludeDocs = opts.IncludeDocs || b.WithDoc
	}

	result, err := s.engine.AllDocs(r.Context(), db, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := allDocsResponse{AllDocsResult: result}
	if n := len(result.Rows); n == opts.Limit {
		resp.Bookmark = encodeBookmark(bookmark{
			After:   result.Rows[n-1].ID,
			EndKey:  opts.EndKey,
			Limit:   opts.Limit,
			WithDoc: opts.IncludeDocs,
		})
	}
	s.rd.JSON(w, http.StatusOK, resp)
}

// purge handles POST /{db}/_purge with a body of {id: [revs]}.
func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	db, ok := s.databaseName(w, r)
	if !ok {
		return
	}
	var body map[string][]string
	if err := readJSON(r.Body, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ids := make([]string, 0, len(body))
	for id := range body {
		ids = append(ids, id)
	}
	purgedIDs, err := s.engine.Purge(r.Context(), db, ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.engine.GetDatabase(r.Context(), db)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	purged := make(map[string][]string, len(purgedIDs))
	for _, id := range purgedIDs {
		revs := body[id]
		if revs == nil {
			revs = []string{}
		}
		purged[id] = revs
	}
	s.rd.JSON(w, http.StatusCreated, map[string]interface{}{
		"purge_seq": changes.FormatSeq(rec.PurgeSeq),
		"purged":    purged,
	})
}
