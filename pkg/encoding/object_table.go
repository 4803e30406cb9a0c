package encoding

import "fmt"

// ObjectTable maps live object identities to small file-local integers. A table is valid
// for exactly one serialized stream: the saver assigns refs in first-seen order, the loader
// binds each ref to the object it recreated before decoding anything that points at it.
type ObjectTable struct {
	toRef map[uint64]uint64
	toID  map[uint64]uint64
	next  uint64
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{
		toRef: make(map[uint64]uint64),
		toID:  make(map[uint64]uint64),
	}
}

// EncodeRef returns the ref for id, assigning the next free one on first use.
func (t *ObjectTable) EncodeRef(id uint64) (uint64, error) {
	if ref, ok := t.toRef[id]; ok {
		return ref, nil
	}
	ref := t.next
	t.next++
	t.toRef[id] = ref
	t.toID[ref] = id
	return ref, nil
}

// DecodeRef resolves a ref previously assigned or bound.
func (t *ObjectTable) DecodeRef(ref uint64) (uint64, error) {
	id, ok := t.toID[ref]
	if !ok {
		return 0, fmt.Errorf("%w: ref %d", ErrUnresolvedRef, ref)
	}
	return id, nil
}

// Bind associates ref with a live id while loading.
func (t *ObjectTable) Bind(ref, id uint64) {
	t.toRef[id] = ref
	t.toID[ref] = id
	if ref >= t.next {
		t.next = ref + 1
	}
}

// Len reports the number of distinct objects in the table.
func (t *ObjectTable) Len() int { return len(t.toID) }

// Entries returns (ref, id) pairs ordered by ref.
func (t *ObjectTable) Entries() [][2]uint64 {
	out := make([][2]uint64, 0, len(t.toID))
	for ref := uint64(0); ref < t.next; ref++ {
		if id, ok := t.toID[ref]; ok {
			out = append(out, [2]uint64{ref, id})
		}
	}
	return out
}
