// Package changes reads the per-database change log. A page of the log is deduplicated so that each document
// appears once, at its newest position in the page, and pages are resumed from an opaque cursor.
package changes

import (
	"context"
	"math"
	"strconv"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/keys"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
)

type Options struct {
	// Since is exclusive, 0 reads from the beginning.
	Since uint64
	// Limit bounds the raw log entries read, before deduplication. 0 means no bound.
	Limit       int
	IncludeDocs bool
}

type Rev struct {
	Rev string `json:"rev"`
}

type Result struct {
	ID      string            `json:"id"`
	Seq     string            `json:"seq"`
	Changes []Rev             `json:"changes"`
	Deleted bool              `json:"deleted,omitempty"`
	Doc     document.Document `json:"doc,omitempty"`
}

type Feed struct {
	// LastSeq is the cursor of the newest raw entry read, or the request's Since when nothing was read.
	LastSeq string    `json:"last_seq"`
	Results []*Result `json:"results"`
}

// FormatSeq renders a sequence as a cursor.
func FormatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// ParseSeq parses a cursor. An empty cursor is the beginning of the log.
func ParseSeq(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &transaction.ErrInvalidArgument{Reason: "invalid since " + strconv.Quote(s)}
	}
	return seq, nil
}

type rawEntry struct {
	seq    uint64
	change transaction.Change
}

// Query returns the changes of db after opts.Since, oldest first.
func Query(ctx context.Context, st storage.Storage, db string, opts Options) (*Feed, error) {
	feed := &Feed{LastSeq: FormatSeq(opts.Since), Results: []*Result{}}
	err := st.View(ctx, func(txn storage.Txn) error {
		if _, err := transaction.LoadDatabase(txn, db); err != nil {
			return err
		}
		if opts.Since == math.MaxUint64 {
			return nil
		}

		var raw []rawEntry
		prefix := keys.ChangePrefix(db)
		err := storage.Scan(txn, keys.ChangeKey(db, opts.Since+1), keys.PrefixEnd(prefix), func(key, value []byte) (bool, error) {
			seq, err := keys.DecodeChangeKey(db, key)
			if err != nil {
				return false, err
			}
			change, err := transaction.DecodeChange(value)
			if err != nil {
				return false, err
			}
			raw = append(raw, rawEntry{seq: seq, change: change})
			return opts.Limit <= 0 || len(raw) < opts.Limit, nil
		})
		if err != nil || len(raw) == 0 {
			return err
		}
		feed.LastSeq = FormatSeq(raw[len(raw)-1].seq)

		results, err := dedup(txn, db, raw, opts.IncludeDocs)
		feed.Results = results
		return err
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// dedup walks the page newest first keeping the first occurrence of each id, then restores log order.
func dedup(txn storage.Txn, db string, raw []rawEntry, includeDocs bool) ([]*Result, error) {
	seen := make(map[string]struct{}, len(raw))
	results := make([]*Result, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		entry := raw[i]
		if _, ok := seen[entry.change.ID]; ok {
			continue
		}
		seen[entry.change.ID] = struct{}{}
		result := &Result{
			ID:      entry.change.ID,
			Seq:     FormatSeq(entry.seq),
			Changes: []Rev{{Rev: document.Rev}},
			Deleted: entry.change.Deleted,
		}
		if includeDocs {
			doc, err := hydrate(txn, db, entry.change)
			if err != nil {
				return nil, err
			}
			result.Doc = doc
		}
		results = append(results, result)
	}
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// hydrate returns the current version of the document, which may be newer than the change itself.
func hydrate(txn storage.Txn, db string, change transaction.Change) (document.Document, error) {
	if change.Deleted {
		return document.Tombstone(change.ID), nil
	}
	doc, err := transaction.LoadDocument(txn, db, change.ID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return document.Tombstone(change.ID), nil
	}
	return doc.Stamp(change.ID), nil
}
