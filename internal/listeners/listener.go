package listeners

import (
	"reflect"

	"github.com/KirkDiggler/localmsg/internal/message"
)

//go:generate mockgen -destination=mocks/mock_listener.go -package=mocks github.com/KirkDiggler/localmsg/internal/listeners Listener

// Listener receives messages on the consumer goroutine.
// Implementations are compared by identity, so they must be comparable;
// pointer receivers are the usual choice.
type Listener interface {
	HandleMessage(msg *message.Message)
}

// Handle identifies one registration and can be used to remove it
type Handle string

// FuncListener adapts a function to a Listener. Each call to Func returns a
// distinct listener, so keep the returned value to remove it later.
type FuncListener struct {
	fn func(msg *message.Message)
}

// Func wraps fn as a Listener
func Func(fn func(msg *message.Message)) *FuncListener {
	return &FuncListener{fn: fn}
}

// HandleMessage calls the wrapped function
func (f *FuncListener) HandleMessage(msg *message.Message) {
	f.fn(msg)
}

// isComparable checks the dynamic value, so a struct whose interface field
// holds a slice is rejected even though its type is comparable
func isComparable(l Listener) bool {
	return reflect.ValueOf(l).Comparable()
}

func typeName(l Listener) string {
	t := reflect.TypeOf(l)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
