package middleware

import (
	"log"
	"net/http"

	"github.com/jonboulle/clockwork"
)

// RequestLogger writes an access log line per request.
type RequestLogger struct {
	next  http.Handler
	clock clockwork.Clock
}

func NewRequestLogger(next http.Handler, clock clockwork.Clock) *RequestLogger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RequestLogger{next: next, clock: clock}
}

func remoteAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

func (rl *RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rl.clock.Now()
	ww := &codeWatcher{w: w}
	rl.next.ServeHTTP(ww, r)
	log.Printf("[access log] %d %s %s %s %dB (%v)", ww.Code(), remoteAddr(r), r.Method, r.URL.Path, ww.Bytes(), rl.clock.Since(start))
}
