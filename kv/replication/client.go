package replication

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxLongpollTimeout = time.Minute
	defaultBatchSize   = 5000
)

// CouchClient reads CouchDB compatible `_changes` feeds over HTTP.
type CouchClient struct {
	client          *http.Client
	interval        time.Duration
	longpollTimeout time.Duration
}

func NewCouchClient(conf *config.Replicator) *CouchClient {
	timeout := conf.RequestTimeout.Duration
	longpoll := timeout / 2
	if longpoll > maxLongpollTimeout {
		longpoll = maxLongpollTimeout
	}
	return &CouchClient{
		client: &http.Client{
			Timeout: timeout,
		},
		interval:        conf.ContinuousInterval.Duration,
		longpollTimeout: longpoll,
	}
}

type changesPage struct {
	Results []struct {
		ID      string            `json:"id"`
		Seq     json.RawMessage   `json:"seq"`
		Deleted bool              `json:"deleted"`
		Doc     document.Document `json:"doc"`
	} `json:"results"`
	LastSeq json.RawMessage `json:"last_seq"`
}

// seqString renders a remote sequence, which may be a JSON string or a number, as an opaque string.
func seqString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func (c *CouchClient) Changes(ctx context.Context, source string, opts ChangesOptions, sink Sink) error {
	base, db, err := ParseSource(source)
	if err != nil {
		return err
	}
	if opts.Since == "" {
		opts.Since = "0"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	var limiter *rate.Limiter
	if opts.Continuous {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
	}
	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sinkErr := sink(&StreamError{Err: err}); sinkErr != nil {
			return sinkErr
		}
		return err
	}

	since := opts.Since
	for {
		if limiter != nil {
			if err = limiter.Wait(ctx); err != nil {
				return err
			}
		}
		page, err := c.fetch(ctx, base, db, since, opts)
		if err != nil {
			return fail(err)
		}
		last := seqString(page.LastSeq)
		if len(page.Results) > 0 {
			changes := make([]Change, 0, len(page.Results))
			for _, r := range page.Results {
				changes = append(changes, Change{ID: r.ID, Seq: seqString(r.Seq), Deleted: r.Deleted, Doc: r.Doc})
			}
			batch := NewBatch(changes, last)
			if err = sink(batch); err != nil {
				return err
			}
			if err = batch.Wait(ctx); err != nil {
				return err
			}
		} else if last != "" && last != since {
			if err = sink(Seq(last)); err != nil {
				return err
			}
		}
		if last != "" {
			since = last
		}
		if !opts.Continuous && len(page.Results) < opts.BatchSize {
			return sink(End{})
		}
	}
}

func (c *CouchClient) fetch(ctx context.Context, base *url.URL, db, since string, opts ChangesOptions) (*changesPage, error) {
	q := url.Values{}
	q.Set("since", since)
	q.Set("limit", strconv.Itoa(opts.BatchSize))
	if opts.IncludeDocs {
		q.Set("include_docs", "true")
	}
	if opts.Exclude != "" {
		q.Set("exclude", opts.Exclude)
	}
	if opts.Continuous {
		q.Set("feed", "longpoll")
		q.Set("timeout", strconv.FormatInt(int64(c.longpollTimeout/time.Millisecond), 10))
	}
	u := url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/" + db + "/_changes", RawQuery: q.Encode()}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if base.User != nil {
		password, _ := base.User.Password()
		req.SetBasicAuth(base.User.Username(), password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("remote changes request failed",
			zap.String("host", base.Host), zap.String("db", db), zap.Int("status", resp.StatusCode))
		return nil, errors.Errorf("GET %s: %s: %s", u.Path, resp.Status, body)
	}
	page := new(changesPage)
	if err = json.NewDecoder(resp.Body).Decode(page); err != nil {
		return nil, errors.Annotatef(err, "decode %s", u.Path)
	}
	return page, nil
}
