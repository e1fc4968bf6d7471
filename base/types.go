package base

import (
	"fmt"
	"reflect"
	"sync"
)

// Timestamp is an opaque, totally ordered oplog position. It is modeled as
// (seconds, ordinal) the way the source database's oplog entries are ordered,
// but the core never interprets the fields beyond comparing them.
type Timestamp struct {
	Seconds uint32
	Ordinal uint32
}

// Compare returns -1, 0 or 1 the way bytes.Compare does.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Seconds < other.Seconds:
		return -1
	case t.Seconds > other.Seconds:
		return 1
	case t.Ordinal < other.Ordinal:
		return -1
	case t.Ordinal > other.Ordinal:
		return 1
	default:
		return 0
	}
}

func (t Timestamp) Less(other Timestamp) bool       { return t.Compare(other) < 0 }
func (t Timestamp) LessOrEqual(other Timestamp) bool { return t.Compare(other) <= 0 }
func (t Timestamp) IsZero() bool                     { return t.Seconds == 0 && t.Ordinal == 0 }

func (t Timestamp) String() string {
	return fmt.Sprintf("Timestamp(%d, %d)", t.Seconds, t.Ordinal)
}

// OpTime is a Timestamp plus an election term. The term is carried for
// interface completeness with the replication coordinator but is never
// interpreted by the core.
type OpTime struct {
	Ts   Timestamp
	Term int64
}

func (o OpTime) String() string {
	return fmt.Sprintf("OpTime{%v, term=%d}", o.Ts, o.Term)
}

// Namespace is a "db.collection" pair.
type Namespace struct {
	DB         string
	Collection string
}

func (n Namespace) String() string {
	if n.Collection == "" {
		return n.DB
	}
	return n.DB + "." + n.Collection
}

func ParseNamespace(full string) Namespace {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return Namespace{DB: full[:i], Collection: full[i+1:]}
		}
	}
	return Namespace{DB: full}
}

// HostPort identifies a remote node. The empty HostPort means "no source
// selected".
type HostPort struct {
	Host string
	Port uint16
}

func (h HostPort) IsZero() bool { return h.Host == "" }

func (h HostPort) String() string {
	if h.Port == 0 {
		return h.Host
	}
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Document is an oplog entry or any other opaque BSON-like document
// exchanged with the source. Only ts, ns and o2._id are ever interpreted by
// the core; everything else passes through untouched.
type Document map[string]interface{}

func (d Document) Ts() (Timestamp, bool) {
	v, ok := d["ts"]
	if !ok {
		return Timestamp{}, false
	}
	ts, ok := v.(Timestamp)
	return ts, ok
}

func (d Document) Ns() string {
	v, _ := d["ns"].(string)
	return v
}

// O2ID returns the o2._id field used by update/delete ops to identify the
// document they reference.
func (d Document) O2ID() (interface{}, bool) {
	o2, ok := d["o2"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	id, ok := o2["_id"]
	return id, ok
}

// Size estimates the document's footprint for buffer admission accounting.
// It deliberately over-counts rather than under-counts: a buffer cap is an
// upper bound, not an exact budget.
func (d Document) Size() int64 {
	return int64(estimateSize(d))
}

func estimateSize(v interface{}) int {
	switch vv := v.(type) {
	case nil:
		return 8
	case string:
		return len(vv) + 16
	case []byte:
		return len(vv) + 16
	case map[string]interface{}:
		total := 16
		for k, val := range vv {
			total += len(k) + estimateSize(val) + 8
		}
		return total
	case []interface{}:
		total := 16
		for _, val := range vv {
			total += estimateSize(val)
		}
		return total
	default:
		return 16
	}
}

// ObjectWithLock pairs an arbitrary value with the lock that guards it,
// following the convention of exposing both halves to callers that need to
// take the lock themselves around multi-step mutations.
type ObjectWithLock struct {
	Object interface{}
	Lock   *sync.RWMutex
}

func NewObjectWithLock(obj interface{}) *ObjectWithLock {
	return &ObjectWithLock{Object: obj, Lock: &sync.RWMutex{}}
}

// SettingDef describes one entry of a validated settings map: its expected
// Go type and whether it is required.
type SettingDef struct {
	DataType reflect.Type
	Required bool
}

func NewSettingDef(dataType reflect.Type, required bool) *SettingDef {
	return &SettingDef{DataType: dataType, Required: required}
}

type SettingDefinitions map[string]*SettingDef

// ErrorMap collects multiple named failures, e.g. one per child component.
type ErrorMap map[string]error

func (m ErrorMap) FirstError() error {
	for _, err := range m {
		return err
	}
	return nil
}
