package middleware

import (
	"net/http"
)

var _ http.ResponseWriter = &codeWatcher{}

// codeWatcher is a http.ResponseWriter that remembers the status code and
// body size for logging.
type codeWatcher struct {
	code  int
	bytes int
	w     http.ResponseWriter
}

func (cw *codeWatcher) Header() http.Header {
	return cw.w.Header()
}

func (cw *codeWatcher) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	cw.bytes += n
	return n, err
}

func (cw *codeWatcher) WriteHeader(statusCode int) {
	if cw.code == 0 {
		cw.code = statusCode
	}
	cw.w.WriteHeader(statusCode)
}

func (cw *codeWatcher) Code() int {
	if cw.code == 0 {
		return http.StatusOK
	}
	return cw.code
}

func (cw *codeWatcher) Bytes() int {
	return cw.bytes
}
