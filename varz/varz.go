/*
varz provides expvar variables with package-qualified names.  Importing
it registers expvar's handler on http.DefaultServeMux; statusz mounts it
explicitly.
*/
package varz

import (
	"expvar"
	"fmt"
	"runtime"
	"strings"
)

// callerPackage returns the package path of whoever called the exported
// constructor.  Declarations in a var block run from init, and that
// suffix is trimmed off too.
func callerPackage() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "varz.unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "varz.unknown"
	}

	n := fn.Name()
	if dot := strings.LastIndex(n, "."); dot != -1 {
		n = n[:dot]
	}
	return n
}

func NewInt(name string) *expvar.Int {
	return expvar.NewInt(fmt.Sprintf("%s.%s", callerPackage(), name))
}

func NewMap(name string) *expvar.Map {
	return expvar.NewMap(fmt.Sprintf("%s.%s", callerPackage(), name))
}

// Counters is a family of counters keyed by some runtime name (a store,
// an event) and a fixed set of kinds (hits, misses).
type Counters struct {
	m *expvar.Map
}

func NewCounters(name string) *Counters {
	return &Counters{m: expvar.NewMap(fmt.Sprintf("%s.%s", callerPackage(), name))}
}

func (c *Counters) Add(key, kind string, delta int64) {
	c.m.Add(key+"."+kind, delta)
}

// Value returns the current count, zero if it was never touched.
func (c *Counters) Value(key, kind string) int64 {
	v, ok := c.m.Get(key + "." + kind).(*expvar.Int)
	if !ok {
		return 0
	}
	return v.Value()
}
