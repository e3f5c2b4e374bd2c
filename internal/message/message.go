package message

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KirkDiggler/localmsg/internal/errors"
)

// Kind identifies which payload shape a message carries
type Kind int

const (
	KindEmpty Kind = iota
	KindObject
	KindArg1
	KindArgs
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindObject:
		return "object"
	case KindArg1:
		return "arg1"
	case KindArgs:
		return "args"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Data is a string keyed bag of arbitrary values
type Data map[string]any

type state int32

const (
	statePending state = iota
	stateRecycled
)

var strict atomic.Bool

// SetStrict enables checks that panic when a recycled message is read.
// Off by default.
func SetStrict(enabled bool) {
	strict.Store(enabled)
}

// Strict reports whether recycled message checks are enabled
func Strict() bool {
	return strict.Load()
}

var pool = sync.Pool{
	New: func() any { return &Message{} },
}

// Message is one posted unit: an identifier plus at most one payload shape.
// A message is only valid until its dispatch pass returns; listeners must
// copy out anything they want to keep.
type Message struct {
	id     int
	kind   Kind
	object any
	arg1   int
	arg2   int
	data   Data
	when   time.Time
	state  atomic.Int32
}

func obtain(id int, kind Kind) *Message {
	m := pool.Get().(*Message)
	m.id = id
	m.kind = kind
	m.state.Store(int32(statePending))
	return m
}

// NewEmpty creates a message carrying only its identifier
func NewEmpty(id int) *Message {
	return obtain(id, KindEmpty)
}

// NewObject creates a message carrying an arbitrary object
func NewObject(id int, object any) *Message {
	m := obtain(id, KindObject)
	m.object = object
	return m
}

// NewArg creates a message carrying one integer
func NewArg(id, arg1 int) *Message {
	m := obtain(id, KindArg1)
	m.arg1 = arg1
	return m
}

// NewArgs creates a message carrying two integers
func NewArgs(id, arg1, arg2 int) *Message {
	m := obtain(id, KindArgs)
	m.arg1 = arg1
	m.arg2 = arg2
	return m
}

// NewData creates a message carrying a data bag. The map is not copied.
func NewData(id int, data Data) *Message {
	m := obtain(id, KindData)
	m.data = data
	return m
}

// Recycle clears the message and returns its storage to the pool.
// Recycling twice is a no-op.
func (m *Message) Recycle() {
	if !m.state.CompareAndSwap(int32(statePending), int32(stateRecycled)) {
		return
	}
	m.id = 0
	m.kind = KindEmpty
	m.object = nil
	m.arg1 = 0
	m.arg2 = 0
	m.data = nil
	m.when = time.Time{}
	if !strict.Load() {
		// strict mode keeps recycled messages out of the pool so a stale
		// reference keeps failing instead of observing a newer message
		pool.Put(m)
	}
}

// Recycled reports whether the message has been recycled
func (m *Message) Recycled() bool {
	return state(m.state.Load()) == stateRecycled
}

// SetWhen stamps the time the message becomes eligible for dispatch
func (m *Message) SetWhen(when time.Time) {
	m.when = when
}

func (m *Message) check() {
	if strict.Load() && m.Recycled() {
		panic(errors.IllegalState("message read after its dispatch finished; " +
			"copy the data out inside HandleMessage and don't keep the *Message"))
	}
}

// ID returns the message identifier
func (m *Message) ID() int {
	m.check()
	return m.id
}

// Kind returns the payload shape
func (m *Message) Kind() Kind {
	m.check()
	return m.kind
}

// Object returns the object payload, nil for other shapes
func (m *Message) Object() any {
	m.check()
	return m.object
}

// Arg1 returns the first integer, zero when the message carries none
func (m *Message) Arg1() int {
	m.check()
	return m.arg1
}

// Arg2 returns the second integer, zero when the message carries none
func (m *Message) Arg2() int {
	m.check()
	return m.arg2
}

// Data returns the data bag. Never nil.
func (m *Message) Data() Data {
	m.check()
	if m.data == nil {
		return Data{}
	}
	return m.data
}

// When returns the time the message became eligible for dispatch
func (m *Message) When() time.Time {
	m.check()
	return m.when
}

// SameObject reports whether the object payload is the same reference as ref.
// Values of uncomparable types never match.
func (m *Message) SameObject(ref any) bool {
	m.check()
	if m.kind != KindObject || m.object == nil || ref == nil {
		return false
	}
	t := reflect.TypeOf(m.object)
	if t != reflect.TypeOf(ref) || !t.Comparable() {
		return false
	}
	return m.object == ref
}

func (m *Message) String() string {
	m.check()
	var b strings.Builder
	b.WriteString("{")
	if !m.when.IsZero() {
		b.WriteString(" when=")
		b.WriteString(m.when.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, " id=%d", m.id)
	if m.arg1 != 0 {
		fmt.Fprintf(&b, " arg1=%d", m.arg1)
	}
	if m.arg2 != 0 {
		fmt.Fprintf(&b, " arg2=%d", m.arg2)
	}
	if m.object != nil {
		fmt.Fprintf(&b, " obj=%v", m.object)
	}
	if len(m.data) > 0 {
		fmt.Fprintf(&b, " data=%v", map[string]any(m.data))
	}
	b.WriteString(" }")
	return b.String()
}
