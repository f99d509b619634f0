package replication

import (
	"context"

	"github.com/pingcap-incubator/tinydoc/kv/document"
)

// Change is one entry of a remote change feed.
type Change struct {
	ID      string
	Seq     string
	Deleted bool
	Doc     document.Document
}

// Event is what a change stream emits: *Batch, Seq, *StreamError or End.
type Event interface{}

// Batch is a page of remote changes. The stream does not fetch the next page until the batch is acknowledged.
type Batch struct {
	Changes []Change
	LastSeq string

	ack chan error
}

func NewBatch(changes []Change, lastSeq string) *Batch {
	return &Batch{Changes: changes, LastSeq: lastSeq, ack: make(chan error, 1)}
}

// Ack reports the outcome of replaying the batch. A non-nil error stops the stream.
func (b *Batch) Ack(err error) {
	select {
	case b.ack <- err:
	default:
	}
}

// Wait blocks until the batch is acknowledged.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case err := <-b.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seq advances the remote cursor without carrying changes.
type Seq string

// StreamError ends the stream with a failure.
type StreamError struct {
	Err error
}

// End ends a one-shot stream once it has caught up.
type End struct{}

// Sink receives the events of a stream in order. It fails once the consumer has gone away.
type Sink func(ev Event) error

// ChangesOptions shape the remote change feed request.
type ChangesOptions struct {
	Since       string
	IncludeDocs bool
	BatchSize   int
	Exclude     string
	Continuous  bool
}

// ChangesClient reads the change feed of a remote database.
type ChangesClient interface {
	// Changes emits events into sink until the feed ends, fails, or ctx is done. It terminates a stream with a
	// *StreamError or, for a one-shot feed, End.
	Changes(ctx context.Context, source string, opts ChangesOptions, sink Sink) error
}
