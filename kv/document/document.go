package document

import (
	"regexp"
	"strings"
)

const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"

	// Rev is the only revision tinydoc reports. Revisions are not tracked.
	Rev = "0-1"

	// ReplicatorDB is the reserved control database holding replication jobs.
	ReplicatorDB = "_replicator"

	indexedPrefix = "_"
)

// Document is a JSON object. A top-level attribute "_<name>" holds the indexed value of field <name>.
type Document map[string]interface{}

// ID returns the _id attribute, or "" when it is missing or not a string.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Deleted reports whether the document is a deletion marker.
func (d Document) Deleted() bool {
	deleted, _ := d[FieldDeleted].(bool)
	return deleted
}

// Body returns a shallow copy of d without the reserved attributes.
func (d Document) Body() Document {
	body := make(Document, len(d))
	for k, v := range d {
		switch k {
		case FieldID, FieldRev, FieldDeleted:
		default:
			body[k] = v
		}
	}
	return body
}

// Stamp sets _id and _rev in place and returns d.
func (d Document) Stamp(id string) Document {
	d[FieldID] = id
	d[FieldRev] = Rev
	return d
}

// IndexedValues returns the values of the declared fields present on d, keyed by field name.
func (d Document) IndexedValues(fields []string) map[string]interface{} {
	values := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		if reservedField(indexedPrefix + field) {
			continue
		}
		if v, ok := d[indexedPrefix+field]; ok {
			values[field] = v
		}
	}
	return values
}

// Tombstone is what reads report for a deleted document.
func Tombstone(id string) Document {
	return Document{FieldID: id, FieldRev: Rev, FieldDeleted: true}
}

var (
	idPattern        = regexp.MustCompile(`^[a-zA-Z0-9\-_:]+$`)
	indexNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// ValidID reports whether id may name a document: non-empty, made of [a-zA-Z0-9-_:] and not starting with "_".
func ValidID(id string) bool {
	return !strings.HasPrefix(id, "_") && idPattern.MatchString(id)
}

// ValidDatabaseName follows the document id rules, except for the reserved control database.
func ValidDatabaseName(name string) bool {
	return name == ReplicatorDB || ValidID(name)
}

// ValidIndexName reports whether name may be declared as an indexed field. The names behind the reserved
// attributes _id, _rev and _deleted are refused.
func ValidIndexName(name string) bool {
	return !reservedField(indexedPrefix+name) && indexNamePattern.MatchString(name)
}

func reservedField(attr string) bool {
	return attr == FieldID || attr == FieldRev || attr == FieldDeleted
}
