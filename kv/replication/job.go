package replication

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
)

// State is the lifecycle state of a replication job.
type State string

const (
	StateNew       State = "new"
	StateRunning   State = "running"
	StateError     State = "error"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// StateIndex is the field of the control database that indexes job states.
const StateIndex = "state"

// Job is a replication job as persisted in the control database.
type Job struct {
	ID           string `json:"_id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Continuous   bool   `json:"continuous"`
	CreateTarget bool   `json:"create_target"`
	Exclude      string `json:"exclude"`
	State        State  `json:"state"`
	Seq          string `json:"seq"`
	DocCount     int64  `json:"doc_count"`
}

// Document returns the stored form of the job. The indexed copy of the state lives in "_state".
func (j *Job) Document() document.Document {
	return document.Document{
		document.FieldID: j.ID,
		"source":         j.Source,
		"target":         j.Target,
		"continuous":     j.Continuous,
		"create_target":  j.CreateTarget,
		"exclude":        j.Exclude,
		"state":          string(j.State),
		"_" + StateIndex: string(j.State),
		"seq":            j.Seq,
		"doc_count":      j.DocCount,
	}
}

// JobFromDocument decodes a job document read from the control database.
func JobFromDocument(doc document.Document) (*Job, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	job := new(Job)
	if err = json.Unmarshal(data, job); err != nil {
		return nil, errors.Annotatef(err, "decode replication job %v", doc.ID())
	}
	return job, nil
}

// JobID derives the id of the job copying source into target, so resubmitting the same pair names the same job.
func JobID(source, target string) string {
	key, _ := json.Marshal(struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}{source, target})
	hi, lo := farm.Fingerprint128(key)
	return fmt.Sprintf("%016x%016x", hi, lo)
}

// ParseSource splits a source URL into the server base URL and the database name.
func ParseSource(source string) (*url.URL, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, "", &transaction.ErrInvalidArgument{Reason: "source must be a URL"}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", &transaction.ErrInvalidArgument{Reason: "source must be an absolute http or https URL"}
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return nil, "", &transaction.ErrInvalidArgument{Reason: "source must name a database"}
	}
	base := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return base, db, nil
}

// ErrJobActive is returned when a job for the same source and target is still new or running.
type ErrJobActive struct {
	ID    string
	State State
}

func (e *ErrJobActive) Error() string {
	return fmt.Sprintf("replication job %s is %s", e.ID, e.State)
}

var (
	errJobCancelled = errors.New("replication job cancelled")
	errJobGone      = errors.New("replication job document is gone")
)

// Request is the body of a replication request. Source may also be given as {"url", "headers": {"Authorization":
// "Basic ..."}} and target as {"url"}.
type Request struct {
	Source       string
	Target       string
	Continuous   bool
	CreateTarget bool
	Exclude      string
}

type endpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source       json.RawMessage `json:"source"`
		Target       json.RawMessage `json:"target"`
		Continuous   bool            `json:"continuous"`
		CreateTarget bool            `json:"create_target"`
		Exclude      string          `json:"exclude"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	r.Continuous, r.CreateTarget, r.Exclude = raw.Continuous, raw.CreateTarget, raw.Exclude

	var err error
	if r.Source, err = decodeSource(raw.Source); err != nil {
		return err
	}
	r.Target, err = decodeTarget(raw.Target)
	return err
}

func decodeSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	var ep endpoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return "", errors.Annotate(err, "decode source")
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", &transaction.ErrInvalidArgument{Reason: "source must be a URL"}
	}
	if auth := ep.Headers["Authorization"]; strings.HasPrefix(auth, "Basic ") {
		creds, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err != nil {
			return "", &transaction.ErrInvalidArgument{Reason: "malformed source Authorization header"}
		}
		parts := strings.SplitN(string(creds), ":", 2)
		if len(parts) == 2 {
			u.User = url.UserPassword(parts[0], parts[1])
		} else {
			u.User = url.User(parts[0])
		}
	}
	return u.String(), nil
}

func decodeTarget(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	var ep endpoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return "", errors.Annotate(err, "decode target")
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", &transaction.ErrInvalidArgument{Reason: "target must be a URL or a database name"}
	}
	return strings.Trim(u.Path, "/"), nil
}

// EnsureControlDatabase creates the control database unless it already exists.
func EnsureControlDatabase(ctx context.Context, engine *transaction.Engine) error {
	_, err := engine.CreateDatabase(ctx, document.ReplicatorDB, []string{StateIndex})
	if _, ok := errors.Cause(err).(*transaction.ErrDatabaseExists); ok {
		return nil
	}
	return err
}

// SubmitJob validates req and stores it as a new job. A job that already exists for the pair is reset to new unless
// it is still active.
func SubmitJob(ctx context.Context, engine *transaction.Engine, req Request) (*Job, error) {
	if req.Source == "" || req.Target == "" {
		return nil, &transaction.ErrInvalidArgument{Reason: "source and target must be supplied"}
	}
	if _, _, err := ParseSource(req.Source); err != nil {
		return nil, err
	}
	if !document.ValidID(req.Target) {
		return nil, &transaction.ErrInvalidArgument{Reason: "target must be a valid database name"}
	}
	job := &Job{
		ID:           JobID(req.Source, req.Target),
		Source:       req.Source,
		Target:       req.Target,
		Continuous:   req.Continuous,
		CreateTarget: req.CreateTarget,
		Exclude:      req.Exclude,
		State:        StateNew,
		Seq:          "0",
	}
	err := engine.Update(ctx, document.ReplicatorDB, job.ID, func(old document.Document) (document.Document, error) {
		if old != nil && !old.Deleted() {
			prev, err := JobFromDocument(old)
			if err != nil {
				return nil, err
			}
			if prev.State == StateNew || prev.State == StateRunning {
				return nil, &ErrJobActive{ID: job.ID, State: prev.State}
			}
		}
		return job.Document(), nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob marks a new or running job cancelled. Cancelling a cancelled job is a no-op.
func CancelJob(ctx context.Context, engine *transaction.Engine, id string) (*Job, error) {
	var job *Job
	err := engine.Update(ctx, document.ReplicatorDB, id, func(old document.Document) (document.Document, error) {
		if old == nil {
			return nil, &transaction.ErrDocumentNotFound{Database: document.ReplicatorDB, ID: id}
		}
		var err error
		if job, err = JobFromDocument(old); err != nil {
			return nil, err
		}
		switch job.State {
		case StateCancelled:
			return nil, nil
		case StateCompleted, StateError:
			return nil, &transaction.ErrInvalidArgument{Reason: fmt.Sprintf("replication job %s already %s", id, job.State)}
		}
		job.State = StateCancelled
		return job.Document(), nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// updateJob rewrites a job unless it has been cancelled or removed meanwhile.
func updateJob(ctx context.Context, engine *transaction.Engine, id string, fn func(job *Job)) (*Job, error) {
	var job *Job
	err := engine.Update(ctx, document.ReplicatorDB, id, func(old document.Document) (document.Document, error) {
		if old == nil {
			return nil, errJobGone
		}
		var err error
		if job, err = JobFromDocument(old); err != nil {
			return nil, err
		}
		if job.State == StateCancelled {
			return nil, errJobCancelled
		}
		fn(job)
		return job.Document(), nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
