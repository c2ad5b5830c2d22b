// Package handles implements the per-context capability registry: a
// generation-checked slot map from opaque handles to typed in-memory
// objects. Each App or Authenticator context owns its own Registry, so
// a handle is meaningless outside the context that created it.
//
// Slots are recycled, but a freed slot's generation counter is bumped
// first. A stale handle therefore fails with a handle-invalid error
// instead of resolving to whatever object reused the slot.
package handles

import (
	"sync"

	"github.com/havenlab/haven/pkg/errs"
)

// Kind types a handle. Resolving a handle with the wrong kind is an
// error distinct from resolving a dead handle.
type Kind uint8

const (
	KindNone Kind = iota
	KindMDataInfo
	KindEntries
	KindKeys
	KindValues
	KindPermissions
	KindEntryActions
	KindWriter
	KindReader
	KindCipherOpt
	KindSignPubKey
	KindEncKeyPair
)

func (k Kind) String() string {
	switch k {
	case KindMDataInfo:
		return "mdata-info"
	case KindEntries:
		return "entries"
	case KindKeys:
		return "keys"
	case KindValues:
		return "values"
	case KindPermissions:
		return "permissions"
	case KindEntryActions:
		return "entry-actions"
	case KindWriter:
		return "writer"
	case KindReader:
		return "reader"
	case KindCipherOpt:
		return "cipher-opt"
	case KindSignPubKey:
		return "sign-pub-key"
	case KindEncKeyPair:
		return "enc-key-pair"
	default:
		return "none"
	}
}

// Handle references one live object in one Registry. The zero Handle
// is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

type slot struct {
	gen  uint32
	kind Kind
	obj  interface{}
	live bool
}

// Registry is the slot map. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Put stores obj and returns a fresh handle for it.
func (r *Registry) Put(kind Kind, obj interface{}) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		s := &r.slots[idx]
		s.kind = kind
		s.obj = obj
		s.live = true
		return Handle{index: idx, gen: s.gen}
	}

	r.slots = append(r.slots, slot{gen: 1, kind: kind, obj: obj, live: true})
	return Handle{index: uint32(len(r.slots) - 1), gen: 1}
}

// Get resolves h to its object. It fails with HandleInvalid when h is
// dead, stale or foreign, and with HandleTypeMismatch when the slot
// holds an object of a different kind.
func (r *Registry) Get(h Handle, kind Kind) (interface{}, error) {
	const op = "handles.Get"

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(op, h)
	if err != nil {
		return nil, err
	}
	if s.kind != kind {
		return nil, errs.Errorf(op, errs.HandleTypeMismatch,
			"want %s, handle holds %s", kind, s.kind)
	}
	return s.obj, nil
}

// Free releases h. Double-free reports HandleInvalid.
func (r *Registry) Free(h Handle) error {
	const op = "handles.Free"

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(op, h)
	if err != nil {
		return err
	}
	s.live = false
	s.obj = nil
	s.kind = KindNone
	s.gen++ // outstanding copies of h go stale here
	r.free = append(r.free, h.index)
	return nil
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) - len(r.free)
}

func (r *Registry) lookup(op string, h Handle) (*slot, error) {
	if int(h.index) >= len(r.slots) {
		return nil, errs.E(op, errs.HandleInvalid)
	}
	s := &r.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, errs.E(op, errs.HandleInvalid)
	}
	return s, nil
}

// Resolve is the typed form of Registry.Get.
func Resolve[T any](r *Registry, h Handle, kind Kind) (T, error) {
	var zero T
	obj, err := r.Get(h, kind)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, errs.E("handles.Resolve", errs.HandleTypeMismatch)
	}
	return v, nil
}
