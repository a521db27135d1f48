// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"encoding/json"
	"fmt"
)

// ConnectionID identifies a Postgres backend session, as returned by
// pg_backend_pid().
type ConnectionID int32

// TableObject identifies a table by name within the current schema.
type TableObject struct {
	Name string `json:"name"`
}

func (t TableObject) String() string { return t.Name }

// ColumnObject identifies a column of a table, along with its canonical
// server-reported data type.
type ColumnObject struct {
	Table    TableObject `json:"table"`
	Name     string      `json:"name"`
	DataType string      `json:"data_type"`
}

// IndexObject identifies an index on a table by name.
type IndexObject struct {
	Table TableObject `json:"table"`
	Name  string      `json:"name"`
}

// FileNode is the physical storage file identifier for a table, as reported
// by pg_relation_filenode. Two snapshots of the same table with different
// FileNodes imply the table was rewritten between them.
type FileNode int32

// DBObject is a tagged union over TableObject, ColumnObject and IndexObject.
// It is externally tagged when serialized to JSON, e.g. {"Table":{"name":"t"}}.
type DBObject interface {
	isDBObject()
}

func (TableObject) isDBObject()  {}
func (ColumnObject) isDBObject() {}
func (IndexObject) isDBObject()  {}

func (t TableObject) MarshalJSON() ([]byte, error) {
	type alias TableObject
	return json.Marshal(struct {
		Table alias `json:"Table"`
	}{alias(t)})
}

func (c ColumnObject) MarshalJSON() ([]byte, error) {
	type alias ColumnObject
	return json.Marshal(struct {
		Column alias `json:"Column"`
	}{alias(c)})
}

func (i IndexObject) MarshalJSON() ([]byte, error) {
	type alias IndexObject
	return json.Marshal(struct {
		Index alias `json:"Index"`
	}{alias(i)})
}

// UnmarshalDBObject decodes an externally-tagged DBObject, as produced by
// MarshalJSON above. It is the inverse of the per-variant MarshalJSON
// methods and is used by tests and by any consumer that round-trips
// InspectedStatement through JSON.
func UnmarshalDBObject(data []byte) (DBObject, error) {
	var tagged struct {
		Table  *TableObject  `json:"Table"`
		Column *ColumnObject `json:"Column"`
		Index  *IndexObject  `json:"Index"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("decoding DBObject: %w", err)
	}
	switch {
	case tagged.Table != nil:
		return *tagged.Table, nil
	case tagged.Column != nil:
		return *tagged.Column, nil
	case tagged.Index != nil:
		return *tagged.Index, nil
	default:
		return nil, fmt.Errorf("decoding DBObject: no recognized tag in %s", data)
	}
}

// Lock is one of Postgres' named table-level lock modes. Unrecognized mode
// names are preserved verbatim via Unknown rather than dropped, for forward
// compatibility with server versions that introduce new modes.
type Lock struct {
	name    string
	unknown bool
}

var (
	AccessShareLock          = Lock{name: "AccessShareLock"}
	RowShareLock             = Lock{name: "RowShareLock"}
	RowExclusiveLock         = Lock{name: "RowExclusiveLock"}
	ShareUpdateExclusiveLock = Lock{name: "ShareUpdateExclusiveLock"}
	ShareLock                = Lock{name: "ShareLock"}
	ShareRowExclusiveLock    = Lock{name: "ShareRowExclusiveLock"}
	ExclusiveLock            = Lock{name: "ExclusiveLock"}
	AccessExclusiveLock      = Lock{name: "AccessExclusiveLock"}
)

var knownLocks = map[string]Lock{
	AccessShareLock.name:          AccessShareLock,
	RowShareLock.name:             RowShareLock,
	RowExclusiveLock.name:         RowExclusiveLock,
	ShareUpdateExclusiveLock.name: ShareUpdateExclusiveLock,
	ShareLock.name:                ShareLock,
	ShareRowExclusiveLock.name:    ShareRowExclusiveLock,
	ExclusiveLock.name:            ExclusiveLock,
	AccessExclusiveLock.name:      AccessExclusiveLock,
}

// ParseLock parses a lock mode from the server's textual mode name. An
// unrecognized name is preserved verbatim as an Unknown lock rather than
// silently dropped.
func ParseLock(name string) Lock {
	if l, ok := knownLocks[name]; ok {
		return l
	}
	return Lock{name: name, unknown: true}
}

// IsUnknown reports whether this Lock is the escape-hatch Unknown variant.
func (l Lock) IsUnknown() bool { return l.unknown }

func (l Lock) String() string { return l.name }

func (l Lock) MarshalJSON() ([]byte, error) {
	if l.unknown {
		return json.Marshal(struct {
			Unknown string `json:"Unknown"`
		}{l.name})
	}
	return json.Marshal(l.name)
}

func (l *Lock) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*l = ParseLock(plain)
		return nil
	}
	var wrapped struct {
		Unknown string `json:"Unknown"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("decoding Lock: %w", err)
	}
	*l = Lock{name: wrapped.Unknown, unknown: true}
	return nil
}

// TableLock pairs a table with the lock mode held or requested against it.
type TableLock struct {
	Table TableObject `json:"table"`
	Lock  Lock        `json:"lock"`
}

// InspectedStatement summarizes the side effects a statement had (or would
// have) on a database: the schema objects it added and removed, the table
// locks it required, and the tables it physically rewrote. All four fields
// are unordered sets; equality is by membership, not by slice order.
type InspectedStatement struct {
	AddedObjects   []DBObject  `json:"added_objects"`
	RemovedObjects []DBObject  `json:"removed_objects"`
	Locks          []TableLock `json:"locks"`
	Rewrites       []DBObject  `json:"rewrites"`
}

// Equal reports whether two InspectedStatements describe the same side
// effects, comparing each field as a set rather than as an ordered slice.
func (s InspectedStatement) Equal(other InspectedStatement) bool {
	return dbObjectsEqual(s.AddedObjects, other.AddedObjects) &&
		dbObjectsEqual(s.RemovedObjects, other.RemovedObjects) &&
		tableLocksEqual(s.Locks, other.Locks) &&
		dbObjectsEqual(s.Rewrites, other.Rewrites)
}

func dbObjectsEqual(a, b []DBObject) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[DBObject]struct{}, len(a))
	for _, o := range a {
		set[o] = struct{}{}
	}
	for _, o := range b {
		if _, ok := set[o]; !ok {
			return false
		}
	}
	return true
}

func tableLocksEqual(a, b []TableLock) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[TableLock]struct{}, len(a))
	for _, l := range a {
		set[l] = struct{}{}
	}
	for _, l := range b {
		if _, ok := set[l]; !ok {
			return false
		}
	}
	return true
}
