package replication

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remoteFeed struct {
	mu      sync.Mutex
	queries []string
	total   int
}

func (f *remoteFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "bob" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}
	if r.URL.Path != "/src/_changes" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var results []map[string]interface{}
	last := since
	for seq := since + 1; seq <= f.total && len(results) < limit; seq++ {
		id := "doc" + strconv.Itoa(seq)
		results = append(results, map[string]interface{}{
			"seq":     seq,
			"id":      id,
			"changes": []map[string]string{{"rev": "1-x"}},
			"doc":     map[string]interface{}{"_id": id, "n": seq},
		})
		last = seq
	}
	if results == nil {
		results = []map[string]interface{}{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"results": results, "last_seq": last})
}

func newTestClient() *CouchClient {
	conf := config.NewTestConfig().Replicator
	conf.RequestTimeout = config.NewDuration(5 * time.Second)
	return NewCouchClient(&conf)
}

// collect acknowledges every batch and records what the stream emitted.
func collect(events *[]Event) Sink {
	return func(ev Event) error {
		if b, ok := ev.(*Batch); ok {
			b.Ack(nil)
		}
		*events = append(*events, ev)
		return nil
	}
}

func TestCouchClientOneShot(t *testing.T) {
	feed := &remoteFeed{total: 5}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	source := strings.Replace(srv.URL, "http://", "http://bob:secret@", 1) + "/src"
	var events []Event
	err := newTestClient().Changes(context.Background(), source,
		ChangesOptions{IncludeDocs: true, BatchSize: 2, Exclude: "kind"}, collect(&events))
	require.Nil(t, err)

	require.Len(t, events, 4)
	first := events[0].(*Batch)
	assert.Equal(t, "2", first.LastSeq)
	require.Len(t, first.Changes, 2)
	assert.Equal(t, "doc1", first.Changes[0].ID)
	assert.Equal(t, "1", first.Changes[0].Seq)
	assert.Equal(t, 1.0, first.Changes[0].Doc["n"])
	assert.Equal(t, "4", events[1].(*Batch).LastSeq)
	assert.Len(t, events[2].(*Batch).Changes, 1)
	assert.Equal(t, End{}, events[3])

	feed.mu.Lock()
	defer feed.mu.Unlock()
	require.Len(t, feed.queries, 3)
	assert.Contains(t, feed.queries[0], "since=0")
	assert.Contains(t, feed.queries[0], "include_docs=true")
	assert.Contains(t, feed.queries[0], "exclude=kind")
	assert.Contains(t, feed.queries[0], "limit=2")
	assert.NotContains(t, feed.queries[0], "feed=longpoll")
	assert.Contains(t, feed.queries[2], "since=4")
}

func TestCouchClientEmptyPageEnds(t *testing.T) {
	feed := &remoteFeed{total: 4}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	source := strings.Replace(srv.URL, "http://", "http://bob:secret@", 1) + "/src"
	var events []Event
	require.Nil(t, newTestClient().Changes(context.Background(), source,
		ChangesOptions{Since: "2", BatchSize: 2}, collect(&events)))
	require.Len(t, events, 2)
	assert.Equal(t, "4", events[0].(*Batch).LastSeq)
	assert.Equal(t, End{}, events[1])
}

func TestCouchClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(&remoteFeed{total: 1})
	defer srv.Close()

	var events []Event
	err := newTestClient().Changes(context.Background(), srv.URL+"/src", ChangesOptions{BatchSize: 10}, collect(&events))
	assert.NotNil(t, err)
	require.Len(t, events, 1)
	streamErr, ok := events[0].(*StreamError)
	require.True(t, ok)
	assert.Contains(t, streamErr.Err.Error(), "401")
}

func TestCouchClientContinuous(t *testing.T) {
	feed := &remoteFeed{total: 3}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	source := strings.Replace(srv.URL, "http://", "http://bob:secret@", 1) + "/src"
	ctx, cancel := context.WithCancel(context.Background())
	var events []Event
	sink := func(ev Event) error {
		if b, ok := ev.(*Batch); ok {
			b.Ack(nil)
			events = append(events, ev)
			cancel()
		}
		return nil
	}
	err := newTestClient().Changes(ctx, source, ChangesOptions{BatchSize: 10, Continuous: true}, sink)
	assert.Equal(t, context.Canceled, err)
	require.Len(t, events, 1)
	assert.Len(t, events[0].(*Batch).Changes, 3)

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.Contains(t, feed.queries[0], "feed=longpoll")
	assert.Contains(t, feed.queries[0], "timeout=2500")
}

func TestBatchAckOnce(t *testing.T) {
	b := NewBatch(nil, "1")
	b.Ack(nil)
	b.Ack(context.Canceled)
	assert.Nil(t, b.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, NewBatch(nil, "2").Wait(ctx))
}

func TestRemoteFailureFailsJobs(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"unavailable"}`))
	}))
	defer remote.Close()

	ctx := context.Background()
	engine := newEngine(t)
	conf := config.NewTestConfig().Replicator
	r := NewReplicator(engine, NewCouchClient(&conf), &conf)

	var ids []string
	for i := 0; i < 10; i++ {
		job, err := r.Submit(ctx, Request{
			Source:       remote.URL + "/src",
			Target:       "dst" + strconv.Itoa(i),
			Continuous:   i%2 == 0,
			CreateTarget: true,
		})
		require.Nil(t, err)
		ids = append(ids, job.ID)
	}
	require.Nil(t, r.Start())
	defer r.Stop()

	for _, id := range ids {
		require.Eventually(t, func() bool {
			return loadJob(t, engine, id).State == StateError
		}, 5*time.Second, 5*time.Millisecond, "job %s", id)
	}
	require.Eventually(t, func() bool { return len(r.Owned()) == 0 }, 5*time.Second, 5*time.Millisecond)
}
