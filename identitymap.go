package reldoc

import "fmt"

// State is an identity map entry's lifecycle tag.
type State int

const (
	Clean State = iota
	NewState
	Modified
	Deleted
	Detached
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case NewState:
		return "new"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// versionUnknown marks an entry attached by Save with a pre-existing Id
// that was never loaded through Get: its true persisted Version is
// unknown, so flush cannot do an optimistic-concurrency CAS against it.
const versionUnknown int64 = -1

// entry is one IdentityMap slot: the live object, its last-known-persisted
// snapshot, and its state tag.
type entry struct {
	typeName string
	id       int64
	obj      any
	snapshot []byte
	version  int64
	state    State
	readOnly bool
}

type identityKey struct {
	typeName string
	id       int64
}

// identityMap is a per-session (Type, Id) -> entry registry. It never
// survives across sessions; Store.CreateSession always starts a fresh one.
type identityMap struct {
	byKey map[identityKey]*entry
}

func newIdentityMap() *identityMap {
	return &identityMap{
		byKey: make(map[identityKey]*entry),
	}
}

func (m *identityMap) tryGet(typeName string, id int64) (*entry, bool) {
	e, ok := m.byKey[identityKey{typeName, id}]
	return e, ok
}

func (m *identityMap) add(e *entry) {
	m.byKey[identityKey{e.typeName, e.id}] = e
}

func (m *identityMap) remove(e *entry) {
	delete(m.byKey, identityKey{e.typeName, e.id})
}

func (m *identityMap) all() []*entry {
	out := make([]*entry, 0, len(m.byKey))
	for _, e := range m.byKey {
		out = append(out, e)
	}
	return out
}

func (m *identityMap) detachAll() {
	for _, e := range m.byKey {
		e.state = Detached
	}
}
