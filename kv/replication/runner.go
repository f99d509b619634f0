package replication

import (
	"context"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap-incubator/tinydoc/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// jobRunner drives one job. Its Handle method runs on the job's worker goroutine, so batches are replayed and
// checkpointed one at a time in the order the stream delivered them.
type jobRunner struct {
	r      *Replicator
	job    *Job
	ctx    context.Context
	cancel context.CancelFunc

	// pendingSeq is the newest cursor seen without changes. It is persisted with the next checkpoint.
	pendingSeq string
	finished   bool
}

func newJobRunner(r *Replicator, job *Job, ctx context.Context, cancel context.CancelFunc) *jobRunner {
	return &jobRunner{r: r, job: job, ctx: ctx, cancel: cancel}
}

func (j *jobRunner) run() {
	if _, _, err := ParseSource(j.job.Source); err != nil {
		log.Warn("replication job has an invalid source", zap.String("job", j.job.ID), zap.Error(err))
		j.finish(StateError, err)
		return
	}
	if err := j.transition(StateRunning); err != nil {
		j.abort(err)
		return
	}
	if j.job.CreateTarget {
		_, err := j.r.engine.CreateDatabase(j.ctx, j.job.Target, nil)
		if _, ok := errors.Cause(err).(*transaction.ErrDatabaseExists); err != nil && !ok {
			j.finish(StateError, err)
			return
		}
	}
	log.Info("replication job starting",
		zap.String("job", j.job.ID), zap.String("target", j.job.Target), zap.String("since", j.job.Seq),
		zap.Bool("continuous", j.job.Continuous))

	// Once the worker starts, j.job belongs to the worker goroutine.
	id, source := j.job.ID, j.job.Source
	opts := ChangesOptions{
		Since:       j.job.Seq,
		IncludeDocs: true,
		BatchSize:   j.r.conf.BatchSize,
		Exclude:     j.job.Exclude,
		Continuous:  j.job.Continuous,
	}
	w := worker.NewWorker("replication-"+id, &j.r.wg)
	w.Start(j)
	err := j.r.client.Changes(j.ctx, source, opts, func(ev Event) error {
		return w.Send(j.ctx, ev)
	})
	if err != nil && j.ctx.Err() == nil {
		log.Debug("change stream returned", zap.String("job", id), zap.Error(err))
	}
	w.Stop()
	<-w.Done()
}

func (j *jobRunner) Handle(t worker.Task) {
	if j.finished {
		if b, ok := t.(*Batch); ok {
			b.Ack(errJobCancelled)
		}
		return
	}
	switch ev := t.(type) {
	case *Batch:
		start := time.Now()
		err := j.replay(ev)
		batchDuration.Observe(time.Since(start).Seconds())
		ev.Ack(err)
		if err != nil {
			j.abort(err)
		}
	case Seq:
		j.pendingSeq = string(ev)
	case *StreamError:
		log.Warn("replication change stream failed", zap.String("job", j.job.ID), zap.Error(ev.Err))
		j.finish(StateError, ev.Err)
	case End:
		select {
		case <-time.After(j.r.conf.SettleDelay.Duration):
		case <-j.ctx.Done():
			j.finished = true
			return
		}
		j.finish(StateCompleted, nil)
	default:
		log.Error("unexpected replication event", zap.String("job", j.job.ID), zap.Reflect("event", t))
	}
}

// replay writes the documents of one batch into the target and checkpoints the job. Ids starting with "_" are
// design or local documents and are skipped.
func (j *jobRunner) replay(b *Batch) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	docs := make([]document.Document, 0, len(b.Changes))
	for _, c := range b.Changes {
		if !document.ValidID(c.ID) {
			if len(c.ID) == 0 || c.ID[0] != '_' {
				log.Warn("skip remote document with unsupported id", zap.String("job", j.job.ID), zap.String("id", c.ID))
			}
			continue
		}
		if c.Deleted {
			docs = append(docs, document.Tombstone(c.ID))
			continue
		}
		if c.Doc == nil {
			continue
		}
		doc := make(document.Document, len(c.Doc))
		for k, v := range c.Doc {
			doc[k] = v
		}
		doc[document.FieldID] = c.ID
		docs = append(docs, doc)
	}
	if len(docs) > 0 {
		if err := j.r.engine.WriteBatch(j.ctx, j.job.Target, docs); err != nil {
			return err
		}
	}
	seq := b.LastSeq
	if seq == "" {
		seq = j.pendingSeq
	}
	job, err := updateJob(j.ctx, j.r.engine, j.job.ID, func(job *Job) {
		job.DocCount += int64(len(docs))
		if seq != "" {
			job.Seq = seq
		}
	})
	if err != nil {
		return err
	}
	j.job = job
	j.pendingSeq = ""
	replicatedDocsCounter.Add(float64(len(docs)))
	log.Debug("replication batch applied",
		zap.String("job", j.job.ID), zap.Int("docs", len(docs)), zap.String("seq", j.job.Seq))
	return nil
}

func (j *jobRunner) transition(state State) error {
	job, err := updateJob(j.r.ctx, j.r.engine, j.job.ID, func(job *Job) {
		job.State = state
		if state == StateCompleted && j.pendingSeq != "" {
			job.Seq = j.pendingSeq
		}
	})
	if err != nil {
		return err
	}
	j.job = job
	jobStateCounter.WithLabelValues(string(state)).Inc()
	return nil
}

// finish moves the job to a terminal state and stops the stream.
func (j *jobRunner) finish(state State, cause error) {
	j.finished = true
	defer j.cancel()
	if err := j.transition(state); err != nil {
		j.abort(err)
		return
	}
	fields := []zap.Field{zap.String("job", j.job.ID), zap.String("state", string(state)), zap.Int64("doc-count", j.job.DocCount)}
	if cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	log.Info("replication job finished", fields...)
}

// abort stops the job after a failure of its own. A cancelled job or a stopping process leaves the job document
// untouched; any other failure is recorded as the error state.
func (j *jobRunner) abort(err error) {
	j.finished = true
	defer j.cancel()
	cause := errors.Cause(err)
	switch {
	case cause == errJobCancelled:
		log.Info("replication job cancelled, stopping", zap.String("job", j.job.ID))
		return
	case cause == errJobGone:
		log.Warn("replication job document removed, stopping", zap.String("job", j.job.ID))
		return
	case j.ctx.Err() != nil:
		return
	}
	log.Error("replication job failed", zap.String("job", j.job.ID), zap.Error(err))
	if _, terr := updateJob(j.r.ctx, j.r.engine, j.job.ID, func(job *Job) { job.State = StateError }); terr != nil {
		log.Error("record replication job error failed", zap.String("job", j.job.ID), zap.Error(terr))
		return
	}
	jobStateCounter.WithLabelValues(string(StateError)).Inc()
}
