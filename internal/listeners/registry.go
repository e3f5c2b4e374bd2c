package listeners

import (
	"sync"

	"github.com/KirkDiggler/localmsg/internal/debug"
	"github.com/KirkDiggler/localmsg/internal/errors"
	"github.com/KirkDiggler/localmsg/internal/uuid"
)

type entry struct {
	handle   Handle
	listener Listener
}

// Registry holds listeners for specific message ids and for all messages.
//
// Buckets are never modified in place: every mutation swaps in a new slice.
// A Snapshot grabs the current slices under the read locks and is iterated
// after releasing them, so callbacks may add or remove listeners freely and
// those changes apply from the next snapshot on.
type Registry struct {
	uuidGenerator uuid.Generator

	specificMu sync.RWMutex
	specific   map[int][]entry

	universalMu sync.RWMutex
	universal   []entry
}

// RegistryConfig holds the dependencies of a Registry
type RegistryConfig struct {
	UUIDGenerator uuid.Generator
}

// NewRegistry creates an empty registry
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if cfg == nil {
		return nil, errors.InvalidArgument("registry config is required")
	}
	if cfg.UUIDGenerator == nil {
		return nil, errors.InvalidArgument("uuid generator is required")
	}

	return &Registry{
		uuidGenerator: cfg.UUIDGenerator,
		specific:      make(map[int][]entry),
	}, nil
}

func validate(l Listener) error {
	if l == nil {
		return errors.InvalidArgument("listener is required")
	}
	if !isComparable(l) {
		return errors.InvalidArgumentf("listener of type %T is not comparable, register a pointer instead", l)
	}
	return nil
}

func indexOf(bucket []entry, l Listener) int {
	for i, e := range bucket {
		if e.listener == l {
			return i
		}
	}
	return -1
}

func without(bucket []entry, i int) []entry {
	next := make([]entry, 0, len(bucket)-1)
	next = append(next, bucket[:i]...)
	return append(next, bucket[i+1:]...)
}

func with(bucket []entry, e entry) []entry {
	next := make([]entry, len(bucket), len(bucket)+1)
	copy(next, bucket)
	return append(next, e)
}

// Add registers l for messages with the given id. Adding a listener that is
// already in the bucket returns its existing handle.
func (r *Registry) Add(id int, l Listener) (Handle, error) {
	if err := validate(l); err != nil {
		return "", err
	}

	r.specificMu.Lock()
	defer r.specificMu.Unlock()

	bucket := r.specific[id]
	if i := indexOf(bucket, l); i >= 0 {
		debug.Logf("Registry: listener %s already added for id %d", typeName(l), id)
		return bucket[i].handle, nil
	}

	h := Handle(r.uuidGenerator.New())
	r.specific[id] = with(bucket, entry{handle: h, listener: l})
	return h, nil
}

// AddUniversal registers l for every message
func (r *Registry) AddUniversal(l Listener) (Handle, error) {
	if err := validate(l); err != nil {
		return "", err
	}

	r.universalMu.Lock()
	defer r.universalMu.Unlock()

	if i := indexOf(r.universal, l); i >= 0 {
		debug.Logf("Registry: listener %s already added as universal", typeName(l))
		return r.universal[i].handle, nil
	}

	h := Handle(r.uuidGenerator.New())
	r.universal = with(r.universal, entry{handle: h, listener: l})
	return h, nil
}

// Remove unregisters l from the bucket for id. Returns false if it was not there.
func (r *Registry) Remove(id int, l Listener) bool {
	if l == nil || !isComparable(l) {
		return false
	}

	r.specificMu.Lock()
	defer r.specificMu.Unlock()

	bucket := r.specific[id]
	i := indexOf(bucket, l)
	if i < 0 {
		debug.Logf("Registry: removing listener %s that is not registered for id %d", typeName(l), id)
		return false
	}
	r.setBucket(id, without(bucket, i))
	return true
}

// RemoveUniversal unregisters a universal listener. Returns false if it was not there.
func (r *Registry) RemoveUniversal(l Listener) bool {
	if l == nil || !isComparable(l) {
		return false
	}

	r.universalMu.Lock()
	defer r.universalMu.Unlock()

	i := indexOf(r.universal, l)
	if i < 0 {
		debug.Logf("Registry: removing universal listener %s that is not registered", typeName(l))
		return false
	}
	r.universal = without(r.universal, i)
	return true
}

// RemoveAll drops the whole bucket for id and returns how many listeners it held
func (r *Registry) RemoveAll(id int) int {
	r.specificMu.Lock()
	defer r.specificMu.Unlock()

	n := len(r.specific[id])
	if n == 0 {
		debug.Logf("Registry: removing listeners for id %d but none are registered", id)
	}
	delete(r.specific, id)
	return n
}

// RemoveHandle removes the registration identified by h, wherever it lives
func (r *Registry) RemoveHandle(h Handle) bool {
	if h == "" {
		return false
	}

	r.specificMu.Lock()
	for id, bucket := range r.specific {
		for i, e := range bucket {
			if e.handle == h {
				r.setBucket(id, without(bucket, i))
				r.specificMu.Unlock()
				return true
			}
		}
	}
	r.specificMu.Unlock()

	r.universalMu.Lock()
	defer r.universalMu.Unlock()
	for i, e := range r.universal {
		if e.handle == h {
			r.universal = without(r.universal, i)
			return true
		}
	}

	debug.Logf("Registry: no listener registered under handle %s", h)
	return false
}

// setBucket must be called with specificMu held
func (r *Registry) setBucket(id int, bucket []entry) {
	if len(bucket) == 0 {
		delete(r.specific, id)
		return
	}
	r.specific[id] = bucket
}

// Contains reports whether l is registered for id
func (r *Registry) Contains(id int, l Listener) bool {
	if l == nil || !isComparable(l) {
		return false
	}
	return indexOf(r.specificSnapshot(id), l) >= 0
}

// ContainsUniversal reports whether l is registered for every message
func (r *Registry) ContainsUniversal(l Listener) bool {
	if l == nil || !isComparable(l) {
		return false
	}
	return indexOf(r.universalSnapshot(), l) >= 0
}

// Len returns the number of listeners registered for id
func (r *Registry) Len(id int) int {
	return len(r.specificSnapshot(id))
}

// UniversalLen returns the number of universal listeners
func (r *Registry) UniversalLen() int {
	return len(r.universalSnapshot())
}

// BucketCount returns the number of ids with at least one listener
func (r *Registry) BucketCount() int {
	r.specificMu.RLock()
	defer r.specificMu.RUnlock()

	return len(r.specific)
}

// Names returns the type names of the listeners registered for id, in order
func (r *Registry) Names(id int) []string {
	return names(r.specificSnapshot(id))
}

// UniversalNames returns the type names of the universal listeners, in order
func (r *Registry) UniversalNames() []string {
	return names(r.universalSnapshot())
}

func names(bucket []entry) []string {
	out := make([]string, len(bucket))
	for i, e := range bucket {
		out[i] = typeName(e.listener)
	}
	return out
}

func (r *Registry) specificSnapshot(id int) []entry {
	r.specificMu.RLock()
	defer r.specificMu.RUnlock()

	return r.specific[id]
}

func (r *Registry) universalSnapshot() []entry {
	r.universalMu.RLock()
	defer r.universalMu.RUnlock()

	return r.universal
}

// Snapshot is the set of listeners for one message, fixed when it was taken
type Snapshot struct {
	specific  []entry
	universal []entry
}

// Snapshot captures the listeners for id and the universal listeners in one
// go. Later registry changes do not affect it.
func (r *Registry) Snapshot(id int) Snapshot {
	return Snapshot{
		specific:  r.specificSnapshot(id),
		universal: r.universalSnapshot(),
	}
}

// Len returns the number of invocations Visit will make
func (s Snapshot) Len() int {
	return len(s.specific) + len(s.universal)
}

// Visit calls fn for the specific listeners and then the universal ones,
// each in registration order. No registry lock is held while fn runs.
func (s Snapshot) Visit(fn func(Listener)) {
	for _, e := range s.specific {
		fn(e.listener)
	}
	for _, e := range s.universal {
		fn(e.listener)
	}
}
