package transaction

// The transaction package implements tinydoc's write engine on top of a transactional ordered key-value store
// (storage.Storage). A database is a namespace of the shared keyspace (see the keys package) plus one database
// record holding its counters and declared indexes.
//
// Every document mutation is one store transaction which
//
//   - loads the database record, failing with ErrDatabaseNotFound when it is missing,
//   - reads the old body of the document,
//   - diffs the declared indexed fields of the old and new versions, clearing stale index entries and setting new
//     ones (unchanged values are left alone),
//   - stores the new body with the reserved attributes stripped, or removes it for a deletion,
//   - appends a change-log entry under the next value of the record's update_seq,
//   - adjusts doc_count / doc_del_count and writes the record back.
//
// Because the record is read and written by every mutation of its database, two concurrent writers to one database
// always conflict in the store; the store retries the loser, which then draws the next sequence. The sequence is
// therefore strictly increasing in commit order. Within one process writers to a database are additionally
// serialized by latches (see the latches package) so that they rarely reach the store's conflict path.
//
// Reads (Get, AllDocs, the changes and query packages) run in read-only snapshots and also check the record first.
