package badger_storage

import (
	"context"
	"os"
	"time"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// BadgerStorage is an implementation of `Storage` on a single local badger instance.
type BadgerStorage struct {
	conf config.Engine
	db   *badger.DB
}

func NewBadgerStorage(conf *config.Engine) *BadgerStorage {
	return &BadgerStorage{conf: *conf}
}

func (s *BadgerStorage) Start() error {
	opts := badger.DefaultOptions
	opts.Dir = s.conf.DBPath
	opts.ValueDir = s.conf.DBPath
	opts.ValueThreshold = s.conf.ValueThreshold
	opts.MaxTableSize = int64(s.conf.MaxTableSize)
	opts.ValueLogFileSize = int64(s.conf.ValueLogFileSize)
	opts.NumMemtables = s.conf.NumMemTables
	opts.NumCompactors = s.conf.NumCompactors
	opts.SyncWrites = s.conf.SyncWrites
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return errors.Annotatef(err, "open badger at %s", opts.Dir)
	}
	s.db = db
	log.Info("badger storage started", zap.String("path", opts.Dir), zap.Bool("sync-writes", opts.SyncWrites))
	return nil
}

func (s *BadgerStorage) Stop() error {
	if s.db == nil {
		return nil
	}
	return errors.WithStack(s.db.Close())
}

func (s *BadgerStorage) Update(ctx context.Context, fn func(txn storage.Txn) error) error {
	start := time.Now()
	defer func() { txnDuration.WithLabelValues("update").Observe(time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := s.db.NewTransaction(true)
		if err := fn(&badgerTxn{txn: txn}); err != nil {
			txn.Discard()
			return err
		}
		err := txn.Commit()
		if err == nil {
			return nil
		}
		if err != badger.ErrConflict {
			log.Error("commit failed", zap.Error(err))
			return &storage.ErrStoreUnavailable{Err: err}
		}
		txnConflictCounter.Inc()
		if attempt >= s.conf.MaxRetries {
			log.Warn("transaction conflict retries exhausted", zap.Int("attempts", attempt+1))
			return storage.ErrConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff(attempt)):
		}
	}
}

func conflictBackoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(attempt+1) * time.Millisecond
}

func (s *BadgerStorage) View(ctx context.Context, fn func(txn storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { txnDuration.WithLabelValues("view").Observe(time.Since(start).Seconds()) }()

	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(&badgerTxn{txn: txn, readOnly: true})
}

func (s *BadgerStorage) DeleteRange(ctx context.Context, start, end []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := engine_util.DeleteRange(s.db, start, end, s.conf.DeleteRangeBatch)
	log.Debug("delete range", zap.Int("keys", n), zap.Error(err))
	if err != nil {
		return &storage.ErrStoreUnavailable{Err: err}
	}
	return nil
}

type badgerTxn struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	val, err := engine_util.GetFromTxn(t.txn, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrStoreUnavailable{Err: err}
	}
	return val, nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return errors.WithStack(t.txn.Set(key, value))
}

func (t *badgerTxn) Delete(key []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return errors.WithStack(t.txn.Delete(key))
}

func (t *badgerTxn) NewIterator() engine_util.DBIterator {
	return engine_util.NewIterator(t.txn)
}
