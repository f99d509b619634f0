package tinydoc

/*
TinyDoc is a small document database with a CouchDB flavoured HTTP interface. Documents are JSON objects stored in
a transactional ordered key/value engine (badger on disk, or an in-memory tree for tests), and every write is
recorded in a per-database change log that clients can follow.

Building TinyDoc produces two executables: tinydoc-server and tinydoc-ctl. The first serves the HTTP API and runs the
replicator, which pulls documents from remote CouchDB compatible change feeds into local databases. The second is a
command line client for the API.

The `tinydoc` module is organized into the following packages:

* `kv/storage`: the ordered key/value engine interface and its badger and memory implementations.
* `kv/keys`, `kv/document`: the key layout and the document model.
* `kv/transaction`: databases, document writes, secondary index maintenance and purge.
* `kv/changes`, `kv/query`: the change feed and index queries.
* `kv/replication`: replication jobs and the replicator that runs them.
* `kv/server`: the HTTP API.
* `kv/config`: configuration and logging setup.
*/
