package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/query"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient serves a fixed list of pages. A one-shot stream then ends (or fails with err); a continuous stream
// blocks until it is cancelled.
type fakeClient struct {
	pages []*Batch
	err   error

	mu    sync.Mutex
	opts  []ChangesOptions
	acked int
}

func (c *fakeClient) Changes(ctx context.Context, source string, opts ChangesOptions, sink Sink) error {
	c.mu.Lock()
	c.opts = append(c.opts, opts)
	c.mu.Unlock()
	for _, p := range c.pages {
		batch := NewBatch(p.Changes, p.LastSeq)
		if err := sink(batch); err != nil {
			return err
		}
		if err := batch.Wait(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		c.acked++
		c.mu.Unlock()
	}
	if err := sink(Seq("final")); err != nil {
		return err
	}
	if c.err != nil {
		return sink(&StreamError{Err: c.err})
	}
	if opts.Continuous {
		<-ctx.Done()
		return ctx.Err()
	}
	return sink(End{})
}

func (c *fakeClient) options() []ChangesOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChangesOptions(nil), c.opts...)
}

func testPages() []*Batch {
	return []*Batch{
		{Changes: []Change{
			{ID: "a", Seq: "1", Doc: document.Document{"_id": "a", "_rev": "3-abc", "name": "first", "_kind": "x"}},
			{ID: "_design/app", Seq: "2", Doc: document.Document{"_id": "_design/app"}},
			{ID: "b", Seq: "3", Doc: document.Document{"_id": "b", "_rev": "1-def", "name": "second", "_kind": "y"}},
		}, LastSeq: "3"},
		{Changes: []Change{
			{ID: "a", Seq: "4", Deleted: true},
			{ID: "c", Seq: "5", Doc: document.Document{"_id": "c", "name": "third", "_kind": "x"}},
		}, LastSeq: "5"},
	}
}

type replicatorSuite struct {
	t      *testing.T
	ctx    context.Context
	engine *transaction.Engine
	client *fakeClient
	r      *Replicator
}

func newReplicatorSuite(t *testing.T, client *fakeClient) *replicatorSuite {
	engine := newEngine(t)
	conf := config.NewTestConfig().Replicator
	return &replicatorSuite{
		t:      t,
		ctx:    context.Background(),
		engine: engine,
		client: client,
		r:      NewReplicator(engine, client, &conf),
	}
}

func (s *replicatorSuite) submit(req Request) string {
	job, err := s.r.Submit(s.ctx, req)
	require.Nil(s.t, err)
	return job.ID
}

func (s *replicatorSuite) waitState(id string, state State) *Job {
	var job *Job
	require.Eventually(s.t, func() bool {
		job = loadJob(s.t, s.engine, id)
		return job.State == state
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, state)
	return job
}

func (s *replicatorSuite) waitIdle() {
	require.Eventually(s.t, func() bool { return len(s.r.Owned()) == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestOneShotReplication(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", []string{"kind"})
	require.Nil(t, err)
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst", Exclude: "kind"})

	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	job := s.waitState(id, StateCompleted)
	assert.Equal(t, int64(4), job.DocCount)
	assert.Equal(t, "final", job.Seq)
	s.waitIdle()

	_, err = s.engine.Get(s.ctx, "dst", "a")
	assert.IsType(t, &transaction.ErrDocumentNotFound{}, errors.Cause(err))
	doc, err := s.engine.Get(s.ctx, "dst", "b")
	require.Nil(t, err)
	assert.Equal(t, "second", doc["name"])
	assert.Equal(t, document.Rev, doc["_rev"])

	docs, err := query.Run(s.ctx, s.engine.Storage(), "dst", query.Equal("kind", "x"))
	require.Nil(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID())

	opts := s.client.options()
	require.Len(t, opts, 1)
	assert.Equal(t, "0", opts[0].Since)
	assert.True(t, opts[0].IncludeDocs)
	assert.Equal(t, 100, opts[0].BatchSize)
	assert.Equal(t, "kind", opts[0].Exclude)
	assert.False(t, opts[0].Continuous)
}

func TestCreateTarget(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "fresh", CreateTarget: true})
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	s.waitState(id, StateCompleted)
	rec, err := s.engine.GetDatabase(s.ctx, "fresh")
	require.Nil(t, err)
	assert.Equal(t, int64(2), rec.DocCount)
}

func TestMissingTargetFailsJob(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "absent"})
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	s.waitState(id, StateError)
	s.waitIdle()
}

func TestStreamErrorFailsJob(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()[:1], err: errors.New("connection reset")})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", nil)
	require.Nil(t, err)
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst"})
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	job := s.waitState(id, StateError)
	assert.Equal(t, "3", job.Seq)
	assert.Equal(t, int64(2), job.DocCount)
}

func TestInvalidStoredSource(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{})
	job := &Job{ID: "bad-job", Source: "ftp://remote/src", Target: "dst", State: StateNew, Seq: "0"}
	require.Nil(t, s.engine.WriteOne(s.ctx, document.ReplicatorDB, job.ID, job.Document()))
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	s.waitState(job.ID, StateError)
	assert.Empty(t, s.client.options())
}

func TestResumeRunningJob(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", nil)
	require.Nil(t, err)
	job := &Job{ID: "resumed", Source: "http://remote/src", Target: "dst", State: StateRunning, Seq: "42", DocCount: 7}
	require.Nil(t, s.engine.WriteOne(s.ctx, document.ReplicatorDB, job.ID, job.Document()))
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	done := s.waitState(job.ID, StateCompleted)
	assert.Equal(t, int64(7), done.DocCount)
	opts := s.client.options()
	require.Len(t, opts, 1)
	assert.Equal(t, "42", opts[0].Since)
}

func TestPollPicksUpNewJobs(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", nil)
	require.Nil(t, err)
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst"})
	s.waitState(id, StateCompleted)
}

func TestCancelContinuousJob(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", nil)
	require.Nil(t, err)
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst", Continuous: true})
	require.Nil(t, s.r.Start())
	defer s.r.Stop()

	require.Eventually(t, func() bool {
		job := loadJob(t, s.engine, id)
		return job.State == StateRunning && job.DocCount == 4
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{id}, s.r.Owned())

	_, err = s.r.Cancel(s.ctx, id)
	require.Nil(t, err)
	s.waitIdle()
	job := loadJob(t, s.engine, id)
	assert.Equal(t, StateCancelled, job.State)
	assert.Equal(t, int64(4), job.DocCount)
}

func TestStopLeavesJobRunning(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{pages: testPages()})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", nil)
	require.Nil(t, err)
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst", Continuous: true})
	require.Nil(t, s.r.Start())

	s.waitState(id, StateRunning)
	require.Eventually(t, func() bool { return loadJob(t, s.engine, id).DocCount == 4 }, 5*time.Second, 5*time.Millisecond)
	s.r.Stop()
	s.r.Stop()
	assert.Empty(t, s.r.Owned())
	assert.Equal(t, StateRunning, loadJob(t, s.engine, id).State)
}

// Replaying a batch whose checkpoint was lost must leave the target as if it had been applied once.
func TestReplayIsIdempotent(t *testing.T) {
	s := newReplicatorSuite(t, &fakeClient{})
	_, err := s.engine.CreateDatabase(s.ctx, "dst", []string{"kind"})
	require.Nil(t, err)
	id := s.submit(Request{Source: "http://remote:5984/src", Target: "dst"})
	job := loadJob(t, s.engine, id)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	runner := newJobRunner(s.r, job, ctx, cancel)
	require.Nil(t, runner.transition(StateRunning))

	snapshot := func() ([]document.Document, []document.Document) {
		all, err := s.engine.AllDocs(s.ctx, "dst", transaction.AllDocsOptions{IncludeDocs: true})
		require.Nil(t, err)
		var docs []document.Document
		for _, row := range all.Rows {
			docs = append(docs, row.Doc)
		}
		indexed, err := query.Run(s.ctx, s.engine.Storage(), "dst", query.Request{Index: "kind", StartKey: "", HasStartKey: true})
		require.Nil(t, err)
		return docs, indexed
	}

	for _, page := range testPages() {
		require.Nil(t, runner.replay(NewBatch(page.Changes, page.LastSeq)))
	}
	onceDocs, onceIndexed := snapshot()
	onceRec, err := s.engine.GetDatabase(s.ctx, "dst")
	require.Nil(t, err)

	last := testPages()[1]
	require.Nil(t, runner.replay(NewBatch(last.Changes, last.LastSeq)))
	twiceDocs, twiceIndexed := snapshot()
	twiceRec, err := s.engine.GetDatabase(s.ctx, "dst")
	require.Nil(t, err)

	assert.Equal(t, onceDocs, twiceDocs)
	assert.Equal(t, onceIndexed, twiceIndexed)
	assert.Equal(t, onceRec.DocCount, twiceRec.DocCount)
	assert.Len(t, onceDocs, 2)
	assert.Equal(t, "5", loadJob(t, s.engine, id).Seq)
}
