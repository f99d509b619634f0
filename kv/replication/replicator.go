// Package replication copies the change feeds of remote databases into local ones. Jobs are documents in the
// control database; the Replicator discovers them, runs one worker per job and checkpoints progress back into the
// job document.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/query"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const discoveryPageSize = 100

type Replicator struct {
	engine *transaction.Engine
	client ChangesClient
	conf   *config.Replicator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]context.CancelFunc
	closed *atomic.Bool
}

func NewReplicator(engine *transaction.Engine, client ChangesClient, conf *config.Replicator) *Replicator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Replicator{
		engine: engine,
		client: client,
		conf:   conf,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]context.CancelFunc),
		closed: atomic.NewBool(false),
	}
}

// Start resumes the jobs that were running when the process last stopped, starts the new ones, and then polls for
// new jobs every poll interval.
func (r *Replicator) Start() error {
	if err := EnsureControlDatabase(r.ctx, r.engine); err != nil {
		return err
	}
	r.discover(StateRunning, StateNew)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.conf.PollInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.discover(StateNew)
			case <-r.ctx.Done():
				return
			}
		}
	}()
	log.Info("replicator started", zap.Duration("poll-interval", r.conf.PollInterval.Duration))
	return nil
}

// Stop cancels every job owned by this process and waits for their workers. Job documents keep their last
// checkpoint, so running jobs resume on the next Start.
func (r *Replicator) Stop() {
	r.mu.Lock()
	if !r.closed.CAS(false, true) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	log.Info("replicator stopped")
}

// Submit stores a new job. It is picked up by the next discovery round of whichever process runs a replicator.
func (r *Replicator) Submit(ctx context.Context, req Request) (*Job, error) {
	job, err := SubmitJob(ctx, r.engine, req)
	if err != nil {
		return nil, err
	}
	jobStateCounter.WithLabelValues(string(StateNew)).Inc()
	log.Info("replication job submitted", zap.String("job", job.ID), zap.String("target", job.Target))
	return job, nil
}

// Cancel marks a job cancelled and stops its worker if this process owns it.
func (r *Replicator) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := CancelJob(ctx, r.engine, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	cancel, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	jobStateCounter.WithLabelValues(string(StateCancelled)).Inc()
	log.Info("replication job cancelled", zap.String("job", id), zap.Bool("owned", ok))
	return job, nil
}

// Owned returns the ids of the jobs this process is running.
func (r *Replicator) Owned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (r *Replicator) discover(states ...State) {
	var found []*Job
	for _, state := range states {
		jobs, err := r.findJobs(state)
		if err != nil {
			log.Error("replication job discovery failed", zap.String("state", string(state)), zap.Error(err))
			continue
		}
		found = append(found, jobs...)
	}
	for _, job := range found {
		r.startJob(job)
	}
}

func (r *Replicator) findJobs(state State) ([]*Job, error) {
	var jobs []*Job
	for skip := 0; ; skip += discoveryPageSize {
		docs, err := query.Run(r.ctx, r.engine.Storage(), document.ReplicatorDB, query.Request{
			Index:  StateIndex,
			Key:    string(state),
			HasKey: true,
			Limit:  discoveryPageSize,
			Skip:   skip,
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			job, err := JobFromDocument(doc)
			if err != nil {
				log.Warn("skip malformed replication job", zap.String("job", doc.ID()), zap.Error(err))
				continue
			}
			jobs = append(jobs, job)
		}
		if len(docs) < discoveryPageSize {
			return jobs, nil
		}
	}
}

func (r *Replicator) startJob(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return
	}
	if _, ok := r.jobs[job.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.jobs[job.ID] = cancel
	runningJobsGauge.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.jobs, job.ID)
			r.mu.Unlock()
			runningJobsGauge.Dec()
		}()
		newJobRunner(r, job, ctx, cancel).run()
	}()
}
