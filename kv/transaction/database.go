package transaction

import (
	"context"
	"sort"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/keys"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Database is the record kept under ("_db", name). Every committed document mutation rewrites it.
type Database struct {
	Name        string `bson:"db_name" json:"db_name"`
	DocCount    int64  `bson:"doc_count" json:"doc_count"`
	DocDelCount int64  `bson:"doc_del_count" json:"doc_del_count"`
	PurgeSeq    uint64 `bson:"purge_seq" json:"purge_seq,string"`
	UpdateSeq   uint64 `bson:"update_seq" json:"update_seq,string"`
	// Indexes are the declared indexed fields, fixed when the database is created.
	Indexes []string `bson:"indexes" json:"indexes"`
}

// HasIndex reports whether field is declared on the database.
func (d *Database) HasIndex(field string) bool {
	for _, idx := range d.Indexes {
		if idx == field {
			return true
		}
	}
	return false
}

// LoadDatabase reads the record of name inside txn.
func LoadDatabase(txn storage.Txn, name string) (*Database, error) {
	val, err := txn.Get(keys.DatabaseKey(name))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, &ErrDatabaseNotFound{Name: name}
	}
	db := new(Database)
	if err = bson.Unmarshal(val, db); err != nil {
		return nil, errors.Annotatef(err, "decode database record %s", name)
	}
	return db, nil
}

func saveDatabase(txn storage.Txn, db *Database) error {
	val, err := bson.Marshal(db)
	if err != nil {
		return errors.WithStack(err)
	}
	return txn.Set(keys.DatabaseKey(db.Name), val)
}

// CreateDatabase creates an empty database declaring the given indexed fields. Leftovers of a previously dropped
// database with the same name are cleared first.
func (e *Engine) CreateDatabase(ctx context.Context, name string, indexes []string) (*Database, error) {
	if !document.ValidDatabaseName(name) {
		return nil, invalidArgument("invalid database name %q", name)
	}
	declared, err := normalizeIndexes(indexes)
	if err != nil {
		return nil, err
	}

	latched := [][]byte{keys.DatabaseKey(name)}
	if err = e.latches.WaitForLatches(ctx, latched); err != nil {
		return nil, err
	}
	defer e.latches.ReleaseLatches(latched)

	err = e.storage.View(ctx, func(txn storage.Txn) error {
		_, err := LoadDatabase(txn, name)
		if err == nil {
			return &ErrDatabaseExists{Name: name}
		}
		if _, ok := err.(*ErrDatabaseNotFound); ok {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	prefix := keys.NamespacePrefix(name)
	if err = e.storage.DeleteRange(ctx, prefix, keys.PrefixEnd(prefix)); err != nil {
		return nil, err
	}

	db := &Database{Name: name, Indexes: declared}
	err = e.storage.Update(ctx, func(txn storage.Txn) error {
		val, err := txn.Get(keys.DatabaseKey(name))
		if err != nil {
			return err
		}
		if val != nil {
			return &ErrDatabaseExists{Name: name}
		}
		return saveDatabase(txn, db)
	})
	if err != nil {
		return nil, err
	}
	log.Info("database created", zap.String("db", name), zap.Strings("indexes", declared))
	return db, nil
}

func normalizeIndexes(indexes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(indexes))
	declared := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		if !document.ValidIndexName(idx) {
			return nil, invalidArgument("invalid index name %q", idx)
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		declared = append(declared, idx)
	}
	sort.Strings(declared)
	return declared, nil
}

// DropDatabase removes the database record atomically, then clears its namespace. Once the record is gone every
// read or write against the database fails, even while the namespace is still being cleared.
func (e *Engine) DropDatabase(ctx context.Context, name string) error {
	latched := [][]byte{keys.DatabaseKey(name)}
	if err := e.latches.WaitForLatches(ctx, latched); err != nil {
		return err
	}
	defer e.latches.ReleaseLatches(latched)

	err := e.storage.Update(ctx, func(txn storage.Txn) error {
		if _, err := LoadDatabase(txn, name); err != nil {
			return err
		}
		return txn.Delete(keys.DatabaseKey(name))
	})
	if err != nil {
		return err
	}
	prefix := keys.NamespacePrefix(name)
	if err = e.storage.DeleteRange(ctx, prefix, keys.PrefixEnd(prefix)); err != nil {
		// the record is gone, a later CreateDatabase clears the rest
		log.Warn("clear dropped database failed", zap.String("db", name), zap.Error(err))
	}
	log.Info("database dropped", zap.String("db", name))
	return nil
}

func (e *Engine) GetDatabase(ctx context.Context, name string) (*Database, error) {
	var db *Database
	err := e.storage.View(ctx, func(txn storage.Txn) (err error) {
		db, err = LoadDatabase(txn, name)
		return
	})
	return db, err
}

// ListDatabases returns every database name in ascending order.
func (e *Engine) ListDatabases(ctx context.Context) ([]string, error) {
	names := []string{}
	prefix := keys.DatabasePrefix()
	err := e.storage.View(ctx, func(txn storage.Txn) error {
		return storage.Scan(txn, prefix, keys.PrefixEnd(prefix), func(key, _ []byte) (bool, error) {
			name, err := keys.DecodeDatabaseKey(key)
			if err != nil {
				return false, err
			}
			names = append(names, name)
			return true, nil
		})
	})
	return names, err
}
