/*
package dep checks constructor arguments.

A missing collaborator is a programming error, so it panics, naming the
constructor that was shortchanged.
*/
package dep

import (
	"fmt"
	"reflect"
	"runtime"
)

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Required returns t, or panics if t is nil.
func Required[T any](t T) T {
	if !isNil(reflect.ValueOf(&t).Elem()) {
		return t
	}

	what := fmt.Sprintf("%T", &t)[1:]
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		panic(fmt.Sprintf("missing required %s", what))
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		panic(fmt.Sprintf("missing required %s in %s (%s:%d)", what, fn.Name(), file, line))
	}
	panic(fmt.Sprintf("missing required %s (%s:%d)", what, file, line))
}
